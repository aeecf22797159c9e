package movie

import (
	"errors"
	"fmt"

	"github.com/zsiec/reel/internal/decode"
)

// ErrUnrecoverable matches every error after which the movie must be
// stopped. It is the same sentinel the decode worker uses.
var ErrUnrecoverable = decode.ErrUnrecoverable

// ErrStopped is returned by Update after Stop.
var ErrStopped = errors.New("movie: stopped")

// FatalError is a clip-level failure.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("movie: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Is(target error) bool { return target == ErrUnrecoverable }
