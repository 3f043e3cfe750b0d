package worldclock

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is wrapped by every construction-time error so that
// callers can abort startup with a single errors.Is check.
var ErrInvalidConfiguration = errors.New("worldclock: invalid configuration")

var (
	ErrNoLocations        = fmt.Errorf("%w: no locations", ErrInvalidConfiguration)
	ErrNoReference        = fmt.Errorf("%w: no home location", ErrInvalidConfiguration)
	ErrMultipleReferences = fmt.Errorf("%w: more than one home location", ErrInvalidConfiguration)
	ErrEmptyName          = fmt.Errorf("%w: location name is empty", ErrInvalidConfiguration)
	ErrReferenceOffset    = fmt.Errorf("%w: home location must have a zero offset", ErrInvalidConfiguration)
	ErrUnknownStrategy    = fmt.Errorf("%w: unknown strategy", ErrInvalidConfiguration)
	ErrUTCOffsetRange     = fmt.Errorf("%w: reference UTC offset out of range", ErrInvalidConfiguration)
)
