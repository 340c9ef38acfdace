package fetch

import (
	"errors"
	"fmt"
)

var (
	ErrAborted  = errors.New("fetch: aborted")
	ErrNotFound = errors.New("fetch: not found")
	ErrTooLarge = errors.New("fetch: response too large")
)

// FetchError reports a failed request. It never affects other requests.
type FetchError struct {
	Path string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Path, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError is an unexpected HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: http status %d", e.Code)
}
