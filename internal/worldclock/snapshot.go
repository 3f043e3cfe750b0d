package worldclock

import "time"

// Entry is one location as handed to the presentation layer.
type Entry struct {
	Name        string `json:"name"`
	DisplayTime string `json:"display_time"`
	// DiffHours is nil when the difference to the home location is not a
	// whole number of hours.
	DiffHours *int     `json:"diff_hours"`
	Reference bool     `json:"home"`
	ZoneLabel string   `json:"zone"`
	Strategy  Strategy `json:"strategy"`
	// Fallback marks a timezone identifier that could not be resolved and
	// is being shown in local system time.
	Fallback bool `json:"fallback,omitempty"`
}

// Snapshot is the result of one recompute pass.
type Snapshot struct {
	ComputedAt time.Time `json:"computed_at"`
	Entries    []Entry   `json:"locations"`
}

// Lookup finds an entry by name.
func (s Snapshot) Lookup(name string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Equal reports whether both snapshots show the same times. ComputedAt is
// ignored, so two passes within the same displayed minute compare equal.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.Entries) != len(other.Entries) {
		return false
	}
	for i := range s.Entries {
		a, b := s.Entries[i], other.Entries[i]
		if a.Name != b.Name || a.DisplayTime != b.DisplayTime || a.Reference != b.Reference ||
			a.ZoneLabel != b.ZoneLabel || a.Strategy != b.Strategy || a.Fallback != b.Fallback {
			return false
		}
		if (a.DiffHours == nil) != (b.DiffHours == nil) {
			return false
		}
		if a.DiffHours != nil && *a.DiffHours != *b.DiffHours {
			return false
		}
	}
	return true
}

func (s *Snapshot) clone() Snapshot {
	out := Snapshot{ComputedAt: s.ComputedAt, Entries: make([]Entry, len(s.Entries))}
	copy(out.Entries, s.Entries)
	for i := range out.Entries {
		if d := out.Entries[i].DiffHours; d != nil {
			out.Entries[i].DiffHours = intPtr(*d)
		}
	}
	return out
}

// DefaultLocations is the built-in city list: Austin is home and the other
// cities are whole-hour offsets from it. strategy applies to every city.
func DefaultLocations(strategy Strategy) []LocationSpec {
	return []LocationSpec{
		{Name: "Austin", Zone: "America/Chicago", Reference: true, Strategy: strategy, OffsetHours: 0},
		{Name: "NYC", Zone: "America/New_York", Strategy: strategy, OffsetHours: 1},
		{Name: "London", Zone: "Europe/London", Strategy: strategy, OffsetHours: 6},
		{Name: "Berlin", Zone: "Europe/Berlin", Strategy: strategy, OffsetHours: 7},
		{Name: "Bucharest", Zone: "Europe/Bucharest", Strategy: strategy, OffsetHours: 8},
	}
}
