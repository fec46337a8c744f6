package wholestore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/wholestore/engine"
)

var (
	// ErrNoTensor is returned when an operation needs the underlying
	// tensor but the handle is still unbound.
	ErrNoTensor = errors.New("tensor not yet created")

	// ErrAlreadyBound is returned by a second AttachOptimizer call.
	ErrAlreadyBound = errors.New("optimizer already attached")

	// ErrNotOptimizerMode is returned when AttachOptimizer is called on
	// a handle created without optimizer mode.
	ErrNotOptimizerMode = errors.New("handle not created in optimizer mode")

	// ErrInvalidShape is returned for shapes that are not strictly
	// rows x width with positive dimensions.
	ErrInvalidShape = errors.New("invalid shape")

	// ErrVersionTooOld is returned when the engine predates the minimum
	// supported release.
	ErrVersionTooOld = errors.New("engine version too old")
)

// InvariantError reports a handle whose internal optimizer/tensor/module
// triple violates the binding state machine. The state machine makes
// these combinations unreachable; the check exists so a future
// regression fails loudly instead of corrupting a training run.
type InvariantError struct {
	State  BindState
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("binding invariant violated in state %s: %s", e.State, e.Detail)
}

func versionError(got engine.Version) error {
	return fmt.Errorf("%w: have %s, need at least %s", ErrVersionTooOld, got, engine.MinVersion)
}
