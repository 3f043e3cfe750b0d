// Package config provides configuration management for the worldtime-display application.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"worldtime-display/internal/logger"
	"worldtime-display/internal/scheduler"
	"worldtime-display/internal/worldclock"
)

// Environment constants define the application runtime environments.
const (
	EnvironmentDevelopment = "dev"
	EnvironmentProduction  = "prod"
	defaultMetricsBind     = "127.0.0.1:8080"
	defaultAPIBind         = "127.0.0.1:8081"
	defaultGRPCHealthBind  = "127.0.0.1:8082"
	defaultRateLimitRPS    = 10
	defaultRateLimitBurst  = 20
	defaultMQTTTopic       = "worldclock/snapshot"
	maxUTCOffsetHours      = 14
)

// Display modes select the presentation layer.
const (
	DisplayTUI   = "tui"
	DisplayPlain = "plain"
	DisplayNone  = "none"
)

var log = logger.New("config")

// Log contains logging configuration.
type Log struct {
	Level string `json:"level"` // zerolog level name (debug, info, warn, error)
	File  string `json:"file"`  // Log file path; required to see logs in TUI mode
}

// Clock contains the location model configuration.
type Clock struct {
	Strategy           worldclock.Strategy       `json:"strategy"`             // Strategy applied to the default locations
	ReferenceUTCOffset int                       `json:"reference_utc_offset"` // Home wall clock for the offset strategy, in hours
	LocationsFile      string                    `json:"locations_file"`       // Optional YAML file replacing the default locations
	Locations          []worldclock.LocationSpec `json:"-"`
}

// Refresh contains the scheduler configuration.
type Refresh struct {
	Policy       scheduler.Policy `json:"policy"`
	Interval     time.Duration    `json:"interval"`      // Minimum time between throttled recomputes
	TickInterval time.Duration    `json:"tick_interval"` // Host loop tick
}

// Display contains presentation configuration.
type Display struct {
	Mode string `json:"mode"` // "tui", "plain" or "none"
}

// Metrics contains Prometheus metrics server configuration.
type Metrics struct {
	Enabled bool   `json:"enabled"`
	Bind    string `json:"bind"` // Bind address for metrics server (e.g., "127.0.0.1:8080")
}

// API contains snapshot HTTP API configuration.
type API struct {
	Enabled        bool   `json:"enabled"`
	Bind           string `json:"bind"`
	AllowPublic    bool   `json:"allow_public"`     // Permit binding to non-loopback addresses
	RateLimitRPS   int    `json:"rate_limit_rps"`   // Requests per second
	RateLimitBurst int    `json:"rate_limit_burst"` // Burst allowance
}

// GRPCHealth contains configuration for the grpc.health.v1 server.
type GRPCHealth struct {
	Enabled bool   `json:"enabled"`
	Bind    string `json:"bind"`
}

// MQTT contains configuration for the snapshot publisher.
type MQTT struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`  // MQTT broker URL (e.g., "tcp://localhost:1883" or "ssl://mqtt.example.com:8883")
	ClientID  string `json:"client_id"`   // MQTT client ID (auto-generated if empty)
	Topic     string `json:"topic"`       // Topic the snapshot JSON is published to
	QoS       byte   `json:"qos"`         // Quality of Service level (0 or 1)
	Retained  bool   `json:"retained"`    // Publish with the retained flag
	Username  string `json:"username"`    // MQTT username for authentication (optional)
	Password  string `json:"password"`    // MQTT password for authentication (optional)
	TLSCAFile string `json:"tls_ca_file"` // Path to CA certificate for TLS verification (optional)
}

// Config holds the complete application configuration.
type Config struct {
	Log         Log        `json:"log"`
	Clock       Clock      `json:"clock"`
	Refresh     Refresh    `json:"refresh"`
	Display     Display    `json:"display"`
	Metrics     Metrics    `json:"metrics"`
	API         API        `json:"api"`
	GRPCHealth  GRPCHealth `json:"grpc_health"`
	MQTT        MQTT       `json:"mqtt"`
	Environment string     `json:"environment"` // Runtime environment ("dev" or "prod")
}

// Load reads configuration from environment variables and returns a validated Config.
// It applies defaults first, then overrides with environment variables.
// Returns an error if the configuration is invalid.
func Load() (Config, error) {
	configuration := Config{
		Log: Log{
			Level: "info",
		},
		Clock: Clock{
			Strategy:           worldclock.OffsetStrategy,
			ReferenceUTCOffset: worldclock.DefaultReferenceUTCOffset,
		},
		Refresh: Refresh{
			Policy:       scheduler.Throttled,
			Interval:     scheduler.DefaultInterval,
			TickInterval: scheduler.DefaultTickInterval,
		},
		Display: Display{
			Mode: DisplayTUI,
		},
		Metrics: Metrics{
			Enabled: false,
			Bind:    defaultMetricsBind,
		},
		API: API{
			Enabled:        false,
			Bind:           defaultAPIBind,
			RateLimitRPS:   defaultRateLimitRPS,
			RateLimitBurst: defaultRateLimitBurst,
		},
		GRPCHealth: GRPCHealth{
			Enabled: false,
			Bind:    defaultGRPCHealthBind,
		},
		MQTT: MQTT{
			Enabled:   false,
			BrokerURL: "tcp://127.0.0.1:1883",
			Topic:     defaultMQTTTopic,
			QoS:       0,
			Retained:  true,
		},
		Environment: EnvironmentDevelopment,
	}

	appliers := []func(*Config) error{
		applyLogEnvVars,
		applyClockEnvVars,
		applyRefreshEnvVars,
		applyDisplayEnvVars,
		applyMetricsEnvVars,
		applyAPIEnvVars,
		applyGRPCHealthEnvVars,
		applyMQTTEnvVars,
		applyEnvironmentEnvVars,
	}
	for _, apply := range appliers {
		if err := apply(&configuration); err != nil {
			return configuration, err
		}
	}

	if err := loadLocations(&configuration); err != nil {
		return configuration, err
	}

	if err := validate(&configuration); err != nil {
		return configuration, err
	}

	return configuration, nil
}

func applyLogEnvVars(configuration *Config) error {
	configuration.Log.Level = strings.ToLower(GetEnvDefault("LOG_LEVEL", configuration.Log.Level))
	configuration.Log.File = GetEnvDefault("LOG_FILE", configuration.Log.File)
	return nil
}

// applyClockEnvVars reads CLOCK_STRATEGY, CLOCK_REFERENCE_UTC_OFFSET and CLOCK_LOCATIONS_FILE.
func applyClockEnvVars(configuration *Config) error {
	if v := GetEnvDefault("CLOCK_STRATEGY", ""); v != "" {
		strategy, err := worldclock.ParseStrategy(v)
		if err != nil {
			return fmt.Errorf("config: CLOCK_STRATEGY: %w", err)
		}
		configuration.Clock.Strategy = strategy
	}

	offset, err := ParseIntEnv("CLOCK_REFERENCE_UTC_OFFSET", configuration.Clock.ReferenceUTCOffset)
	if err != nil {
		return err
	}
	configuration.Clock.ReferenceUTCOffset = offset

	configuration.Clock.LocationsFile = GetEnvDefault("CLOCK_LOCATIONS_FILE", configuration.Clock.LocationsFile)
	return nil
}

// applyRefreshEnvVars reads REFRESH_POLICY, REFRESH_INTERVAL and REFRESH_TICK_INTERVAL.
// A zero duration falls back to the scheduler default.
func applyRefreshEnvVars(configuration *Config) error {
	if v := GetEnvDefault("REFRESH_POLICY", ""); v != "" {
		policy, err := scheduler.ParsePolicy(v)
		if err != nil {
			return fmt.Errorf("config: REFRESH_POLICY: %w", err)
		}
		configuration.Refresh.Policy = policy
	}

	if d := ParseDurationEnv("REFRESH_INTERVAL", configuration.Refresh.Interval); d > 0 {
		configuration.Refresh.Interval = d
	}
	if d := ParseDurationEnv("REFRESH_TICK_INTERVAL", configuration.Refresh.TickInterval); d > 0 {
		configuration.Refresh.TickInterval = d
	}
	return nil
}

func applyDisplayEnvVars(configuration *Config) error {
	configuration.Display.Mode = strings.ToLower(GetEnvDefault("DISPLAY_MODE", configuration.Display.Mode))
	return nil
}

// applyMetricsEnvVars reads Prometheus metrics server environment variables
func applyMetricsEnvVars(configuration *Config) error {
	configuration.Metrics.Enabled = ParseBoolEnv("METRICS_ENABLED", configuration.Metrics.Enabled)
	configuration.Metrics.Bind = GetEnvDefault("METRICS_BIND", configuration.Metrics.Bind)
	return nil
}

// applyGRPCHealthEnvVars reads gRPC health server environment variables
func applyGRPCHealthEnvVars(configuration *Config) error {
	configuration.GRPCHealth.Enabled = ParseBoolEnv("GRPC_HEALTH_ENABLED", configuration.GRPCHealth.Enabled)
	configuration.GRPCHealth.Bind = GetEnvDefault("GRPC_HEALTH_BIND", configuration.GRPCHealth.Bind)
	return nil
}

// applyAPIEnvVars reads snapshot API environment variables
func applyAPIEnvVars(configuration *Config) error {
	configuration.API.Enabled = ParseBoolEnv("API_ENABLED", configuration.API.Enabled)
	configuration.API.Bind = GetEnvDefault("API_BIND", configuration.API.Bind)
	configuration.API.AllowPublic = ParseBoolEnv("API_ALLOW_PUBLIC", configuration.API.AllowPublic)
	configuration.API.RateLimitRPS = ParsePositiveEnvInt("API_RATE_LIMIT_RPS", configuration.API.RateLimitRPS)
	configuration.API.RateLimitBurst = ParsePositiveEnvInt("API_RATE_LIMIT_BURST", configuration.API.RateLimitBurst)
	return nil
}

// applyMQTTEnvVars reads MQTT environment variables and applies them to the provided configuration.
// MQTT_BROKER_URL picks the broker, MQTT_CLIENT_ID overrides the identifier,
// MQTT_TOPIC names the snapshot topic, and MQTT_QOS clamps QoS to 0 or 1.
func applyMQTTEnvVars(configuration *Config) error {
	configuration.MQTT.Enabled = ParseBoolEnv("MQTT_ENABLED", configuration.MQTT.Enabled)
	configuration.MQTT.BrokerURL = GetEnvDefault("MQTT_BROKER_URL", configuration.MQTT.BrokerURL)
	configuration.MQTT.ClientID = GetEnvDefault("MQTT_CLIENT_ID", configuration.MQTT.ClientID)
	configuration.MQTT.Topic = GetEnvDefault("MQTT_TOPIC", configuration.MQTT.Topic)
	configuration.MQTT.Retained = ParseBoolEnv("MQTT_RETAINED", configuration.MQTT.Retained)

	if v := GetEnvDefault("MQTT_QOS", ""); v != "" {
		qos, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("config: MQTT_QOS must be a number (0 or 1)")
		}
		// Clamp QoS to valid range [0, 1]
		if qos < 0 {
			qos = 0
		}
		if qos > 1 {
			qos = 1
		}
		configuration.MQTT.QoS = byte(qos)
	}

	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		configuration.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		configuration.MQTT.Password = v
	}

	// MQTT_PASSWORD_FILE wins over MQTT_PASSWORD.
	if passwordFile := os.Getenv("MQTT_PASSWORD_FILE"); passwordFile != "" {
		passwordBytes, err := readSecretFile(passwordFile)
		if err != nil {
			return fmt.Errorf("config: failed to read MQTT_PASSWORD_FILE: %w", err)
		}
		configuration.MQTT.Password = strings.TrimSpace(string(passwordBytes))
	}

	configuration.MQTT.TLSCAFile = GetEnvDefault("MQTT_TLS_CA_FILE", configuration.MQTT.TLSCAFile)
	return nil
}

// applyEnvironmentEnvVars normalizes ENVIRONMENT into "dev" or "prod".
// Valid inputs are "dev"/"development" and "prod"/"production"; other values error out.
func applyEnvironmentEnvVars(configuration *Config) error {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "dev", "development":
			configuration.Environment = EnvironmentDevelopment
		case "prod", "production":
			configuration.Environment = EnvironmentProduction
		default:
			return errors.New("config: ENVIRONMENT must be 'dev' or 'prod'")
		}
	}
	return nil
}

// loadLocations fills Clock.Locations from CLOCK_LOCATIONS_FILE or the
// built-in city list.
func loadLocations(configuration *Config) error {
	if configuration.Clock.LocationsFile == "" {
		configuration.Clock.Locations = worldclock.DefaultLocations(configuration.Clock.Strategy)
		return nil
	}

	raw, err := readSecretFile(configuration.Clock.LocationsFile)
	if err != nil {
		return fmt.Errorf("config: failed to read CLOCK_LOCATIONS_FILE: %w", err)
	}
	file, err := ParseLocations(raw, configuration.Clock.Strategy)
	if err != nil {
		return err
	}

	configuration.Clock.Locations = file.Locations
	if file.ReferenceUTCOffset != nil {
		configuration.Clock.ReferenceUTCOffset = *file.ReferenceUTCOffset
	}
	log.Info().
		Str("file", configuration.Clock.LocationsFile).
		Int("locations", len(file.Locations)).
		Msg("loaded locations file")
	return nil
}

// validate checks that configuration fields are present and valid.
func validate(configuration *Config) error {
	if configuration.Environment != EnvironmentDevelopment && configuration.Environment != EnvironmentProduction {
		return errors.New("config: environment must be 'dev' or 'prod'")
	}

	if configuration.Clock.ReferenceUTCOffset < -maxUTCOffsetHours || configuration.Clock.ReferenceUTCOffset > maxUTCOffsetHours {
		return fmt.Errorf("config: CLOCK_REFERENCE_UTC_OFFSET must be between -%d and %d, got %d",
			maxUTCOffsetHours, maxUTCOffsetHours, configuration.Clock.ReferenceUTCOffset)
	}
	if len(configuration.Clock.Locations) == 0 {
		return errors.New("config: at least one location is required")
	}

	switch configuration.Display.Mode {
	case DisplayTUI, DisplayPlain, DisplayNone:
	default:
		return fmt.Errorf("config: DISPLAY_MODE must be 'tui', 'plain' or 'none', got %q", configuration.Display.Mode)
	}

	if _, err := logger.ParseLevel(configuration.Log.Level); err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	if configuration.Metrics.Enabled && configuration.Metrics.Bind == "" {
		return errors.New("config: METRICS_BIND is required when METRICS_ENABLED=true")
	}
	if configuration.API.Enabled && configuration.API.Bind == "" {
		return errors.New("config: API_BIND is required when API_ENABLED=true")
	}
	if configuration.GRPCHealth.Enabled && configuration.GRPCHealth.Bind == "" {
		return errors.New("config: GRPC_HEALTH_BIND is required when GRPC_HEALTH_ENABLED=true")
	}

	if configuration.MQTT.Enabled {
		if configuration.MQTT.BrokerURL == "" {
			return errors.New("config: MQTT_BROKER_URL is required when MQTT_ENABLED=true")
		}
		if configuration.MQTT.Topic == "" {
			return errors.New("config: MQTT_TOPIC is required when MQTT_ENABLED=true")
		}
		if strings.ContainsAny(configuration.MQTT.Topic, "+#") {
			return fmt.Errorf("config: MQTT_TOPIC must not contain wildcards, got %q", configuration.MQTT.Topic)
		}
	}

	if configuration.API.Enabled && configuration.API.AllowPublic && configuration.IsProduction() {
		log.Warn().Str("bind", configuration.API.Bind).Msg("snapshot API is public in production; terminate TLS in front of it")
	}

	return nil
}

// IsProduction returns true if the application is running in production mode.
func (cfg *Config) IsProduction() bool {
	return cfg.Environment == EnvironmentProduction
}

// IsDevelopment returns true if the application is running in development mode.
func (cfg *Config) IsDevelopment() bool {
	return cfg.Environment == EnvironmentDevelopment
}

// String returns a human-readable representation of the configuration.
func (cfg *Config) String() string {
	return "Config{" +
		"Environment=" + cfg.Environment +
		", Strategy=" + cfg.Clock.Strategy.String() +
		", Policy=" + cfg.Refresh.Policy.String() +
		", Display=" + cfg.Display.Mode +
		", Locations=" + strconv.Itoa(len(cfg.Clock.Locations)) +
		"}"
}

func readSecretFile(path string) ([]byte, error) {
	absPath, err := sanitizeAbsolutePath(path)
	if err != nil {
		return nil, err
	}
	return readFileWithinRoot(absPath)
}

func sanitizeAbsolutePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("config: empty file path")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("config: resolve path %q: %w", path, err)
	}
	return abs, nil
}

func readFileWithinRoot(absPath string) ([]byte, error) {
	f, err := os.OpenInRoot(filepath.Dir(absPath), filepath.Base(absPath))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Str("path", absPath).Msg("error closing file")
		}
	}()
	return io.ReadAll(f)
}
