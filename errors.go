package sceneshare

import (
	"errors"
	"fmt"
)

var (
	ErrClosed       = errors.New("sceneshare: share closed")
	ErrEmptyKey     = errors.New("sceneshare: empty key")
	ErrInvalidDelta = errors.New("sceneshare: retention delta must be >= 0")
)

// BuildError is returned to every waiter of a key whose builder failed.
type BuildError struct {
	Key string
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("sceneshare: build %q: %v", e.Key, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// TypeMismatchError reports an Ensure call whose key holds a payload of a
// different type, which means two resources were given the same key.
type TypeMismatchError struct {
	Key  string
	Want string
	Got  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("sceneshare: key %q holds %s, want %s", e.Key, e.Got, e.Want)
}

// PanicError wraps a panic recovered from a builder.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("builder panic: %v", e.Value)
}
