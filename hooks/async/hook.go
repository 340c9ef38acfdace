// Package asynchook moves Hooks callbacks off the calling goroutine.
//
// Share builders, mount workers and the scene controller call hooks inline,
// so a sink that writes to a network collector should be wrapped:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{BuiltEvery: 20})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	share, _ := sceneshare.New(sceneshare.Options{Hooks: hooks})
//
// Events are dropped, and counted, when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/sceneshare"
)

type Hooks struct {
	inner   sceneshare.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against sends on a closed q
	closed  bool
	dropped atomic.Uint64
}

var _ sceneshare.Hooks = (*Hooks)(nil)

func New(inner sceneshare.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = sceneshare.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events lost to a full queue or a closed sink.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) ObjectBuilt(k string, gen uint64, took time.Duration) {
	h.try(func() { h.inner.ObjectBuilt(k, gen, took) })
}
func (h *Hooks) BuildFailed(k string, err error) { h.try(func() { h.inner.BuildFailed(k, err) }) }
func (h *Hooks) ObjectPruned(k string, gen, cur uint64) {
	h.try(func() { h.inner.ObjectPruned(k, gen, cur) })
}
func (h *Hooks) MountFailed(p, tier string, err error) {
	h.try(func() { h.inner.MountFailed(p, tier, err) })
}
func (h *Hooks) SceneSuperseded(id string) { h.try(func() { h.inner.SceneSuperseded(id) }) }
func (h *Hooks) SaveStateRejected(r string, err error) {
	h.try(func() { h.inner.SaveStateRejected(r, err) })
}
