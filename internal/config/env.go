package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// cleanEnvValue removes inline comments and trims whitespace from environment variable values.
// This handles systemd EnvironmentFile format where inline comments are included in the value.
// Example: "127.0.0.1:8080 # bind address" becomes "127.0.0.1:8080".
// Only a "#" at the start or after whitespace opens a comment, so values such
// as the MQTT topic "worldclock/#" survive and can be validated.
func cleanEnvValue(value string) string {
	cleaned := strings.TrimSpace(value)
	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] != '#' {
			continue
		}
		if i == 0 || cleaned[i-1] == ' ' || cleaned[i-1] == '\t' {
			return strings.TrimSpace(cleaned[:i])
		}
	}
	return cleaned
}

// GetEnvDefault retrieves an environment variable or returns a fallback value.
// Empty or whitespace-only values are treated as unset.
// Inline comments (e.g., "value # comment") are stripped.
func GetEnvDefault(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		if cleaned := cleanEnvValue(value); cleaned != "" {
			return cleaned
		}
	}
	return fallback
}

// ParsePositiveEnvInt reads an integer environment variable with validation.
// Returns the fallback if the variable is unset, invalid, or non-positive.
// Invalid or non-positive values are logged before falling back.
func ParsePositiveEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	cleaned := cleanEnvValue(value)
	if cleaned == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(cleaned)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Int("fallback", fallback).Msg("invalid integer, using fallback")
		return fallback
	}
	if parsed <= 0 {
		log.Warn().Str("key", key).Int("value", parsed).Int("fallback", fallback).Msg("non-positive integer, using fallback")
		return fallback
	}
	return parsed
}

// ParseIntEnv reads a signed integer environment variable. Unlike
// ParsePositiveEnvInt a malformed value is an error, since a silently ignored
// offset shifts every displayed time.
func ParseIntEnv(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	cleaned := cleanEnvValue(value)
	if cleaned == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(strings.TrimPrefix(cleaned, "+"))
	if err != nil {
		return fallback, fmt.Errorf("config: %s must be an integer, got %q", key, value)
	}
	return parsed, nil
}

// ParseDurationEnv reads a duration environment variable with validation.
// Values must include a unit suffix (e.g., "500ms", "30s", "5m").
// Returns the fallback if the variable is unset, invalid, or negative.
func ParseDurationEnv(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	cleaned := cleanEnvValue(value)
	if cleaned == "" {
		return fallback
	}
	if !strings.ContainsFunc(cleaned, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	}) {
		log.Warn().Str("key", key).Str("value", value).Dur("fallback", fallback).Msg("duration missing unit, using fallback")
		return fallback
	}
	parsed, err := time.ParseDuration(cleaned)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Dur("fallback", fallback).Msg("invalid duration, using fallback")
		return fallback
	}
	if parsed < 0 {
		log.Warn().Str("key", key).Dur("value", parsed).Dur("fallback", fallback).Msg("negative duration, using fallback")
		return fallback
	}
	return parsed
}

// ParseBoolEnv interprets typical boolean environment values (true/false, 1/0, yes/no).
func ParseBoolEnv(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	cleaned := cleanEnvValue(value)
	if cleaned == "" {
		return fallback
	}
	switch strings.ToLower(cleaned) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		log.Warn().Str("key", key).Str("value", value).Bool("fallback", fallback).Msg("unrecognised boolean, using fallback")
		return fallback
	}
}
