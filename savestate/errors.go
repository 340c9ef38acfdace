package savestate

import (
	"errors"
	"fmt"
)

var (
	// ErrOptionsBits reports a V3 blob whose reserved options byte is set.
	ErrOptionsBits = errors.New("savestate: unsupported options bits")
	// ErrTooLarge reports a state that does not fit the fixed buffer.
	ErrTooLarge = errors.New("savestate: state exceeds buffer")
)

// DecodeError is a malformed save state. Callers treat it as "nothing to
// restore"; it is never fatal to scene loading.
type DecodeError struct {
	Version Version
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("savestate: decode %s: %v", e.Version, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
