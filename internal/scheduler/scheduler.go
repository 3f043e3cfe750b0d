// Package scheduler decides when the clock model recomputes and whether the
// presentation layer has to redraw.
//
// Two policies exist. Throttled recomputes only once the refresh interval
// (60s by default) has elapsed since the last update, which matches the
// minute precision of the display. Unthrottled recomputes on every tick and
// shows the same result at a higher cost; it is kept for comparison and for
// hosts that want to drive their own throttling.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"worldtime-display/internal/clock"
	"worldtime-display/internal/logger"
	"worldtime-display/internal/metrics"
	"worldtime-display/internal/worldclock"
)

const (
	DefaultInterval     = 60 * time.Second
	DefaultTickInterval = time.Second
)

var log = logger.New("scheduler")

// Policy selects the refresh behaviour.
type Policy int

const (
	Throttled Policy = iota
	Unthrottled
)

func (p Policy) String() string {
	switch p {
	case Throttled:
		return "throttled"
	case Unthrottled:
		return "unthrottled"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts "throttled" or "unthrottled" (also "every-tick").
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "throttled", "":
		return Throttled, nil
	case "unthrottled", "every-tick", "always":
		return Unthrottled, nil
	default:
		return Throttled, fmt.Errorf("scheduler: unknown refresh policy %q", name)
	}
}

// Recomputer is the part of the clock model the scheduler drives.
type Recomputer interface {
	RecomputeAll(now time.Time) worldclock.Snapshot
	Snapshot() worldclock.Snapshot
}

// Option applies an optional configuration to a Scheduler during construction.
type Option func(*Scheduler)

// WithClock injects a custom clock for deterministic timing in tests.
func WithClock(clockSource clock.Clock) Option {
	return func(s *Scheduler) {
		s.clockSource = clockSource
	}
}

// WithPolicy selects Throttled or Unthrottled.
func WithPolicy(policy Policy) Option {
	return func(s *Scheduler) {
		s.policy = policy
	}
}

// WithInterval sets the minimum time between throttled recomputes.
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

// WithTickInterval sets how often Run ticks.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.tickInterval = interval
	}
}

// Scheduler tracks the last update instant and turns host ticks into
// recompute and redraw decisions. Tick is safe for concurrent use, although
// the intended host calls it from a single loop.
type Scheduler struct {
	model        Recomputer
	policy       Policy
	interval     time.Duration
	tickInterval time.Duration
	clockSource  clock.Clock

	mu         sync.Mutex
	lastUpdate time.Time
}

// New creates a Scheduler. The model is assumed to have computed its first
// snapshot at construction, so last_update starts at the clock's now.
func New(model Recomputer, opts ...Option) *Scheduler {
	s := &Scheduler{
		model:        model,
		policy:       Throttled,
		interval:     DefaultInterval,
		tickInterval: DefaultTickInterval,
		clockSource:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.clockSource = clock.OrReal(s.clockSource)
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.tickInterval <= 0 {
		s.tickInterval = DefaultTickInterval
	}
	s.lastUpdate = s.clockSource.Now()
	return s
}

// Tick is one host-loop iteration at instant now. It returns the snapshot to
// show and whether the presentation layer must redraw.
func (s *Scheduler) Tick(now time.Time) (worldclock.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.due(now) {
		metrics.RecordTick(false)
		return s.model.Snapshot(), false
	}

	snapshot := s.model.RecomputeAll(now)
	s.lastUpdate = now
	metrics.RecordTick(true)
	return snapshot, true
}

// due must be called with s.mu held.
func (s *Scheduler) due(now time.Time) bool {
	if s.policy == Unthrottled {
		return true
	}
	elapsed := now.Sub(s.lastUpdate)
	if elapsed < 0 {
		// The wall clock stepped backwards; follow it instead of freezing.
		log.Debug().Dur("elapsed", elapsed).Msg("clock moved backwards, refreshing")
		return true
	}
	return elapsed >= s.interval
}

// Run drives Tick from the scheduler's clock until ctx is cancelled. The
// current snapshot is rendered once before the first tick; afterwards the
// renderer only sees snapshots that need a redraw.
func (s *Scheduler) Run(ctx context.Context, renderer Renderer) error {
	if renderer == nil {
		renderer = Fanout{}
	}

	s.render(renderer, s.model.Snapshot())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clockSource.After(s.tickInterval):
			if snapshot, redraw := s.Tick(s.clockSource.Now()); redraw {
				s.render(renderer, snapshot)
			}
		}
	}
}

func (s *Scheduler) render(renderer Renderer, snapshot worldclock.Snapshot) {
	if err := renderer.Render(snapshot); err != nil {
		log.Warn().Err(err).Msg("render failed")
	}
}

// LastUpdate returns the instant of the most recent recompute.
func (s *Scheduler) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}

// Policy reports the active refresh policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Interval reports the throttle interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// TickInterval reports how often Run ticks.
func (s *Scheduler) TickInterval() time.Duration {
	return s.tickInterval
}
