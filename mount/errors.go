package mount

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("mount: file system destroyed")

// MountError is a failed mount.
type MountError struct {
	Path string
	Tier Tier
	Err  error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount %s %q: %v", e.Tier, e.Path, e.Err)
}

func (e *MountError) Unwrap() error { return e.Err }
