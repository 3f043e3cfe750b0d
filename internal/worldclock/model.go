// Package worldclock holds the fixed collection of display locations and
// computes each location's wall-clock time from one shared instant.
//
// Every recompute pass publishes a complete, immutable Snapshot. Readers on
// other goroutines therefore never observe a mix of updated and stale
// locations.
package worldclock

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	// Embedded zone database so timezone lookups do not depend on the host.
	_ "time/tzdata"

	"worldtime-display/internal/clock"
	"worldtime-display/internal/logger"
	"worldtime-display/internal/metrics"
)

// DisplayLayout is the zero-padded 24-hour HH:MM format.
const DisplayLayout = "15:04"

// DefaultReferenceUTCOffset is the home wall clock used by the offset
// strategy when no other offset is configured (Austin, UTC-6).
const DefaultReferenceUTCOffset = -6

const maxUTCOffsetHours = 14

var log = logger.New("worldclock")

// LocationSpec describes one location at construction time.
type LocationSpec struct {
	Name string
	// Zone is the IANA identifier for the timezone strategy. Under the
	// offset strategy it is only a display label.
	Zone      string
	Reference bool
	Strategy  Strategy
	// OffsetHours is the signed hour difference from the reference location.
	// Ignored by the timezone strategy.
	OffsetHours int
}

// ZoneResolver maps an identifier to a location, like time.LoadLocation.
type ZoneResolver func(name string) (*time.Location, error)

type location struct {
	spec     LocationSpec
	tz       *time.Location
	fallback bool
}

// Model is the ordered, immutable set of locations plus the most recently
// published snapshot. RecomputeAll and Snapshot are safe for concurrent use.
type Model struct {
	locations    []location
	refIndex     int
	refUTCOffset int
	refZone      *time.Location
	clockSource  clock.Clock
	resolver     ZoneResolver

	recomputeMu sync.Mutex
	current     atomic.Pointer[Snapshot]
}

// Option applies an optional configuration to a Model during construction.
type Option func(*Model)

// WithClock injects the time source used for the initial computation and by
// Recompute.
func WithClock(clockSource clock.Clock) Option {
	return func(m *Model) {
		m.clockSource = clockSource
	}
}

// WithReferenceUTCOffset sets the UTC offset, in hours, of the reference
// location's wall clock under the offset strategy.
func WithReferenceUTCOffset(hours int) Option {
	return func(m *Model) {
		m.refUTCOffset = hours
	}
}

// WithZoneResolver replaces time.LoadLocation for timezone lookups.
func WithZoneResolver(resolver ZoneResolver) Option {
	return func(m *Model) {
		m.resolver = resolver
	}
}

// New validates specs, resolves timezone identifiers and computes the first
// snapshot. All returned errors wrap ErrInvalidConfiguration.
func New(specs []LocationSpec, opts ...Option) (*Model, error) {
	m := &Model{
		refUTCOffset: DefaultReferenceUTCOffset,
		clockSource:  clock.RealClock{},
		resolver:     time.LoadLocation,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.clockSource = clock.OrReal(m.clockSource)
	if m.resolver == nil {
		m.resolver = time.LoadLocation
	}

	refIndex, err := validateSpecs(specs)
	if err != nil {
		return nil, err
	}
	if m.refUTCOffset < -maxUTCOffsetHours || m.refUTCOffset > maxUTCOffsetHours {
		return nil, fmt.Errorf("%w: %d", ErrUTCOffsetRange, m.refUTCOffset)
	}

	m.refIndex = refIndex
	m.refZone = time.FixedZone(utcLabel(m.refUTCOffset), m.refUTCOffset*3600)
	m.locations = make([]location, len(specs))
	for i, spec := range specs {
		m.locations[i] = m.buildLocation(spec)
	}

	metrics.SetLocations(len(m.locations))
	m.RecomputeAll(m.clockSource.Now())
	return m, nil
}

func validateSpecs(specs []LocationSpec) (int, error) {
	if len(specs) == 0 {
		return -1, ErrNoLocations
	}

	refIndex := -1
	var refNames []string
	for i, spec := range specs {
		if strings.TrimSpace(spec.Name) == "" {
			return -1, fmt.Errorf("%w (position %d)", ErrEmptyName, i)
		}
		if !spec.Strategy.valid() {
			return -1, fmt.Errorf("%w: %d for %q", ErrUnknownStrategy, int(spec.Strategy), spec.Name)
		}
		if spec.Reference {
			refNames = append(refNames, spec.Name)
			refIndex = i
		}
	}

	switch {
	case len(refNames) > 1:
		return -1, fmt.Errorf("%w: %s", ErrMultipleReferences, strings.Join(refNames, ", "))
	case refIndex < 0:
		return -1, ErrNoReference
	}

	ref := specs[refIndex]
	if ref.Strategy == OffsetStrategy && ref.OffsetHours != 0 {
		return -1, fmt.Errorf("%w: %q has %+d", ErrReferenceOffset, ref.Name, ref.OffsetHours)
	}
	return refIndex, nil
}

func (m *Model) buildLocation(spec LocationSpec) location {
	loc := location{spec: spec}
	if spec.Strategy != TimezoneStrategy {
		return loc
	}

	tz, err := m.resolveZone(spec.Zone)
	if err != nil {
		log.Warn().
			Err(err).
			Str("location", spec.Name).
			Str("zone", spec.Zone).
			Msg("timezone not resolvable, falling back to local time")
		metrics.RecordTimezoneFallback(spec.Zone)
		loc.tz = time.Local
		loc.fallback = true
		return loc
	}

	loc.tz = tz
	return loc
}

func (m *Model) resolveZone(name string) (*time.Location, error) {
	// time.LoadLocation("") yields UTC; an empty identifier is a configuration slip.
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("empty timezone identifier")
	}
	tz, err := m.resolver(name)
	if err != nil {
		return nil, err
	}
	if tz == nil {
		return nil, fmt.Errorf("resolver returned no location for %q", name)
	}
	return tz, nil
}

// RecomputeAll derives every location's display time from now and publishes
// the result as the current snapshot.
func (m *Model) RecomputeAll(now time.Time) Snapshot {
	m.recomputeMu.Lock()
	defer m.recomputeMu.Unlock()

	start := m.clockSource.Now()

	refWall := m.referenceWallClock(now)
	_, refOffset := refWall.Zone()

	entries := make([]Entry, len(m.locations))
	for i, loc := range m.locations {
		var wall time.Time
		var diff *int

		switch loc.spec.Strategy {
		case TimezoneStrategy:
			wall = now.In(loc.tz)
			_, offset := wall.Zone()
			if delta := offset - refOffset; delta%3600 == 0 {
				diff = intPtr(delta / 3600)
			}
		default:
			wall = refWall.Add(time.Duration(loc.spec.OffsetHours) * time.Hour)
			diff = intPtr(loc.spec.OffsetHours)
		}

		entries[i] = Entry{
			Name:        loc.spec.Name,
			DisplayTime: wall.Format(DisplayLayout),
			DiffHours:   diff,
			Reference:   loc.spec.Reference,
			ZoneLabel:   m.zoneLabel(loc),
			Strategy:    loc.spec.Strategy,
			Fallback:    loc.fallback,
		}
	}

	snapshot := &Snapshot{ComputedAt: now, Entries: entries}
	m.current.Store(snapshot)

	metrics.RecordRecompute(now, m.clockSource.Now().Sub(start))
	return snapshot.clone()
}

// Recompute is RecomputeAll with the instant read from the model's clock.
func (m *Model) Recompute() Snapshot {
	return m.RecomputeAll(m.clockSource.Now())
}

// Snapshot returns a copy of the most recently published snapshot.
func (m *Model) Snapshot() Snapshot {
	current := m.current.Load()
	if current == nil {
		return Snapshot{}
	}
	return current.clone()
}

// Reference returns the home location's entry from the current snapshot.
func (m *Model) Reference() Entry {
	snapshot := m.Snapshot()
	if m.refIndex < 0 || m.refIndex >= len(snapshot.Entries) {
		return Entry{}
	}
	return snapshot.Entries[m.refIndex]
}

// Len reports the number of locations.
func (m *Model) Len() int {
	return len(m.locations)
}

// Clock exposes the model's time source.
func (m *Model) Clock() clock.Clock {
	return m.clockSource
}

// referenceWallClock is the home location's wall clock at now. Offset-strategy
// locations are always derived from this value.
func (m *Model) referenceWallClock(now time.Time) time.Time {
	ref := m.locations[m.refIndex]
	if ref.spec.Strategy == TimezoneStrategy {
		return now.In(ref.tz)
	}
	return now.In(m.refZone)
}

func (m *Model) zoneLabel(loc location) string {
	if loc.spec.Zone != "" {
		return loc.spec.Zone
	}
	ref := m.locations[m.refIndex]
	if loc.spec.Strategy == OffsetStrategy && ref.spec.Strategy == OffsetStrategy {
		return utcLabel(m.refUTCOffset + loc.spec.OffsetHours)
	}
	return ""
}

func utcLabel(hours int) string {
	if hours == 0 {
		return "UTC"
	}
	return fmt.Sprintf("UTC%+d", hours)
}

func intPtr(v int) *int {
	return &v
}
