package scene

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownScene = errors.New("scene: unknown scene id")
	ErrNoScene      = errors.New("scene: no scene installed")
	ErrInvalidSlot  = errors.New("scene: save slot must be 1..9")
	ErrNoSaves      = errors.New("scene: no save manager configured")
)

// SceneError is a failed scene build.
type SceneError struct {
	SceneID string
	Err     error
}

func (e *SceneError) Error() string {
	return fmt.Sprintf("scene %q: build: %v", e.SceneID, e.Err)
}

func (e *SceneError) Unwrap() error { return e.Err }
