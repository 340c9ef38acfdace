// Package scene owns the lifecycle of the viewer's current scene: request,
// teardown of the previous scene, build, install or supersede, and
// restoration of camera and scene state from save states.
package scene

import (
	"context"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/fetch"
	"github.com/unkn0wn-root/sceneshare/savestate"
)

// Scene is a built, renderable scene. Destroy releases everything the scene
// owns that is not held by the session cache.
type Scene interface {
	Destroy()
}

// Descriptor describes one loadable scene. ID is the scene id used in links
// and save slot keys; two descriptors with the same ID are the same scene.
type Descriptor interface {
	ID() string
	Build(ctx context.Context, sc *Context) (Scene, error)
}

// Optional scene capabilities.
type (
	// StateSerializer persists scene state after the camera block.
	StateSerializer = savestate.StateSerializer

	DefaultWorldMatrixProvider interface {
		DefaultWorldMatrix() savestate.Mat4
	}

	CameraControllerFactory interface {
		CreateCameraController() CameraController
	}

	// StateChangeNotifier scenes call the installed callback whenever their
	// serializable state changes, which saves it and refreshes the link.
	StateChangeNotifier interface {
		SetOnStateChanged(fn func())
	}
)

// CameraController drives the viewer camera from input.
type CameraController interface {
	Kind() string
}

// FPSCameraController is the controller installed when a scene brings none.
type FPSCameraController struct{}

func (FPSCameraController) Kind() string { return "fps" }

// Viewer is the renderer side of the session.
type Viewer interface {
	// SetScene installs s; nil detaches the current scene.
	SetScene(s Scene)

	Camera() savestate.Camera
	SetCamera(c savestate.Camera)

	CameraController() CameraController
	SetCameraController(cc CameraController)

	SceneTime() float64
	SetSceneTime(t float64)
	SetPlaying(playing bool)
}

// InputManager is reset before every build so held keys do not leak into
// the next scene.
type InputManager interface {
	Reset()
}

// ErrorReporter receives scene build failures.
type ErrorReporter interface {
	ReportError(sceneID string, err error)
}

// Resolver maps scene ids to descriptors, for hash navigation.
type Resolver interface {
	Descriptor(id string) (Descriptor, bool)
}

// Revealer is implemented by resolvers with hidden scene groups. A group is
// revealed once one of its scenes is loaded.
type Revealer interface {
	Reveal(sceneID string)
}

// Context is what a Descriptor builds with. It is fresh for every
// transaction. Fetcher is bound to the transaction's fetch epoch: once the
// transaction is superseded its requests fail with fetch.ErrAborted.
type Context struct {
	Fetcher          *fetch.Scope
	Share            *sceneshare.Share
	Pool             *Pool
	Input            InputManager
	RenderInput      any
	InitialSceneTime float64
	Logger           sceneshare.Logger
}
