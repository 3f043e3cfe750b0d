package scheduler

import (
	"errors"

	"worldtime-display/internal/worldclock"
)

// Renderer consumes snapshots that need a redraw.
type Renderer interface {
	Render(snapshot worldclock.Snapshot) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(snapshot worldclock.Snapshot) error

func (fn RendererFunc) Render(snapshot worldclock.Snapshot) error {
	return fn(snapshot)
}

// Fanout hands each snapshot to every renderer. All renderers run even when
// one fails; the errors are joined.
type Fanout []Renderer

func (f Fanout) Render(snapshot worldclock.Snapshot) error {
	var errs []error
	for _, r := range f {
		if r == nil {
			continue
		}
		if err := r.Render(snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
