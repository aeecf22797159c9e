package decode

import (
	"errors"
	"fmt"
)

// ErrUnrecoverable marks errors after which the movie must be torn down.
var ErrUnrecoverable = errors.New("unrecoverable decode error")

// ErrRunning is returned by operations that require a stopped worker.
var ErrRunning = errors.New("decode: worker is running")

// FatalError records the step that failed inside the worker.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("decode: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Is reports true for ErrUnrecoverable so callers can classify without
// knowing the concrete type.
func (e *FatalError) Is(target error) bool { return target == ErrUnrecoverable }
