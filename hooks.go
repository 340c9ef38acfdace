package sceneshare

import "time"

// Hooks lightweight callbacks for high-signal lifecycle events.
// Implementations MUST be cheap and non-blocking; wrap slow sinks with
// hooks/async.
type Hooks interface {
	// A builder committed a new shared object.
	ObjectBuilt(key string, gen uint64, took time.Duration)

	// A builder failed; the entry was dropped so the next caller retries.
	BuildFailed(key string, err error)

	// A committed object fell out of the retention window and was destroyed.
	ObjectPruned(key string, gen, current uint64)

	// A mount failed. tier ∈ {"critical", "optional"}
	MountFailed(path, tier string, err error)

	// A scene finished building after a newer request replaced it; its
	// result was discarded.
	SceneSuperseded(sceneID string)

	// A save state could not be applied.
	// reason ∈ {"decode", "unrecognized", "scene"}
	SaveStateRejected(reason string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) ObjectBuilt(string, uint64, time.Duration) {}
func (NopHooks) BuildFailed(string, error)                 {}
func (NopHooks) ObjectPruned(string, uint64, uint64)       {}
func (NopHooks) MountFailed(string, string, error)         {}
func (NopHooks) SceneSuperseded(string)                    {}
func (NopHooks) SaveStateRejected(string, error)           {}
