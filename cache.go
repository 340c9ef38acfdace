package sceneshare

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	gen "github.com/unkn0wn-root/sceneshare/genstore"
)

type entry struct {
	key  string
	done chan struct{} // closed once the builder returned

	// guarded by Share.mu
	value     any
	err       error
	gen       uint64
	committed bool
}

// Share is the keyed store of asynchronously built shared objects.
// Safe for concurrent use.
type Share struct {
	log    Logger
	hooks  Hooks
	gen    gen.GenStore
	genKey string

	mu      sync.Mutex
	objects map[string]*entry
	current uint64 // mirror of the GenStore counter, updated on LoadNewScene
	closed  bool
}

func newShare(opts Options) (*Share, error) {
	s := &Share{
		objects: make(map[string]*entry),
	}

	// defaults
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.genKey = coalesce(opts.GenKey, defaultGenKey)

	if opts.GenStore != nil {
		s.gen = opts.GenStore
	} else {
		s.gen = gen.NewLocalGenStore()
	}

	g, err := s.gen.Snapshot(context.Background(), s.genKey)
	if err != nil {
		return nil, fmt.Errorf("sceneshare: snapshot generation: %w", err)
	}
	s.current = g
	return s, nil
}

// EnsureObject returns the object stored under key, building it with build
// when no entry (pending or committed) exists. Concurrent callers for the
// same key share one builder invocation and observe the same value or error.
//
// A caller whose ctx ends stops waiting; the builder keeps running and its
// result is still committed for later callers.
func (s *Share) EnsureObject(ctx context.Context, key string, build BuildFunc) (any, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := s.objects[key]
	if ok {
		if e.committed {
			e.gen = s.current // touched
		}
		s.mu.Unlock()
		return s.wait(ctx, e)
	}
	e = &entry{key: key, done: make(chan struct{})}
	s.objects[key] = e
	s.mu.Unlock()

	go s.run(context.WithoutCancel(ctx), e, build)
	return s.wait(ctx, e)
}

func (s *Share) wait(ctx context.Context, e *entry) (any, error) {
	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.value, e.err
}

func (s *Share) run(ctx context.Context, e *entry, build BuildFunc) {
	start := time.Now()
	v, err := callBuilder(ctx, build)

	var orphan any // committed after Close; destroyed right away
	s.mu.Lock()
	if err != nil {
		e.err = &BuildError{Key: e.key, Err: err}
		if s.objects[e.key] == e {
			delete(s.objects, e.key)
		}
	} else {
		e.value = v
		e.committed = true
		e.gen = s.current // generation at commit time, not request time
		if s.closed {
			orphan = v
			delete(s.objects, e.key)
		}
	}
	g := e.gen
	s.mu.Unlock()
	close(e.done)

	if err != nil {
		s.log.Warn("shared object build failed", Fields{"key": e.key, "err": err})
		s.hooks.BuildFailed(e.key, err)
		return
	}
	s.log.Debug("shared object built", Fields{"key": e.key, "gen": g, "took": time.Since(start)})
	s.hooks.ObjectBuilt(e.key, g, time.Since(start))
	if orphan != nil {
		s.destroy(e.key, orphan)
	}
}

func callBuilder(ctx context.Context, build BuildFunc) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return build(ctx)
}

// LoadNewScene bumps the generation. Call exactly once per scene load
// attempt, after the previous scene's teardown started and before any
// builder of the new scene runs.
func (s *Share) LoadNewScene(ctx context.Context) (uint64, error) {
	g, err := s.gen.Bump(ctx, s.genKey)
	if err != nil {
		s.log.Error("generation bump failed", Fields{"key": s.genKey, "err": err})
		return 0, err
	}
	s.mu.Lock()
	s.current = g
	s.mu.Unlock()
	s.log.Debug("new scene generation", Fields{"gen": g})
	return g, nil
}

// PruneOldObjects destroys every committed entry whose generation is older
// than current-ageDelta and returns how many were destroyed. ageDelta 0 keeps
// only the current generation; 1 also keeps the previous one. Entries whose
// builder is still running are never pruned.
func (s *Share) PruneOldObjects(ageDelta int) (int, error) {
	if ageDelta < 0 {
		return 0, ErrInvalidDelta
	}
	delta := uint64(ageDelta)

	s.mu.Lock()
	current := s.current
	var victims []*entry
	for k, e := range s.objects {
		if !e.committed {
			continue
		}
		if e.gen+delta < current {
			victims = append(victims, e)
			delete(s.objects, k)
		}
	}
	s.mu.Unlock()

	// oldest first, then by key
	sort.Slice(victims, func(i, j int) bool {
		if victims[i].gen != victims[j].gen {
			return victims[i].gen < victims[j].gen
		}
		return victims[i].key < victims[j].key
	})
	for _, e := range victims {
		s.destroy(e.key, e.value)
		s.hooks.ObjectPruned(e.key, e.gen, current)
	}
	if len(victims) > 0 {
		s.log.Debug("pruned shared objects", Fields{"removed": len(victims), "gen": current, "delta": ageDelta})
	}
	return len(victims), nil
}

// Generation returns the generation entries are currently stamped with.
func (s *Share) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Has reports whether key holds a committed object. It does not touch the
// entry's generation.
func (s *Share) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.objects[key]
	return ok && e.committed
}

// Len returns the number of entries, pending ones included.
func (s *Share) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Close destroys every committed object and closes the GenStore. Builders
// still running commit into nothing: their result is destroyed on arrival.
func (s *Share) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var live []*entry
	for k, e := range s.objects {
		if e.committed {
			live = append(live, e)
			delete(s.objects, k)
		}
	}
	s.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return live[i].key < live[j].key })
	for _, e := range live {
		s.destroy(e.key, e.value)
	}
	return s.gen.Close(ctx)
}

func (s *Share) destroy(key string, v any) {
	switch d := v.(type) {
	case Destroyable:
		d.Destroy()
	case io.Closer:
		if err := d.Close(); err != nil {
			s.log.Warn("shared object close failed", Fields{"key": key, "err": err})
		}
	}
}
