package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	t.Parallel()

	clock := RealClock{}

	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) {
		t.Fatalf("clock.Now() returned time before test start: %v < %v", now, before)
	}
	if now.After(after) {
		t.Fatalf("clock.Now() returned time after test end: %v > %v", now, after)
	}
}

func TestRealClock_After(t *testing.T) {
	t.Parallel()

	clock := RealClock{}

	deadline := 2 * time.Millisecond
	start := time.Now()

	select {
	case received := <-clock.After(deadline):
		if received.Before(start.Add(deadline)) {
			t.Fatalf("received time too early: %v", received)
		}
	case <-time.After(time.Second):
		t.Fatal("After() channel did not signal within timeout")
	}
}

func TestRealClock_AfterZero(t *testing.T) {
	t.Parallel()

	select {
	case <-RealClock{}.After(0):
	case <-time.After(time.Second):
		t.Fatal("After(0) did not signal")
	}
}

func TestOrReal(t *testing.T) {
	t.Parallel()

	if _, ok := OrReal(nil).(RealClock); !ok {
		t.Fatal("OrReal(nil) should fall back to RealClock")
	}

	fake := NewFakeClock()
	if OrReal(fake) != fake {
		t.Fatal("OrReal should keep a non-nil clock")
	}
}
