package worldclock

import (
	"fmt"
	"strings"
)

// Strategy selects how a location derives its wall-clock time.
type Strategy int

const (
	// OffsetStrategy adds a fixed number of hours to the reference
	// location's wall clock. It ignores daylight-saving transitions.
	OffsetStrategy Strategy = iota
	// TimezoneStrategy converts the shared instant into an IANA zone
	// resolved from the timezone database.
	TimezoneStrategy
)

func (s Strategy) String() string {
	switch s {
	case OffsetStrategy:
		return "offset"
	case TimezoneStrategy:
		return "timezone"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

func (s Strategy) valid() bool {
	return s == OffsetStrategy || s == TimezoneStrategy
}

// ParseStrategy accepts "offset" or "timezone" (also "tz", "iana").
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "offset", "fixed":
		return OffsetStrategy, nil
	case "timezone", "tz", "iana":
		return TimezoneStrategy, nil
	default:
		return OffsetStrategy, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
