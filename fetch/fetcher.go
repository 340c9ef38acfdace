// Package fetch downloads scene data for the session.
//
// A Fetcher groups requests into epochs. The scene controller aborts the
// current epoch when a scene is torn down, so downloads for a scene nobody
// waits for anymore stop early and never report success.
package fetch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/unkn0wn-root/sceneshare"
)

const defaultMaxInFlight = 8

type Options struct {
	MaxInFlight int64 // 0 => 8
	Logger      sceneshare.Logger
}

// Progress counts the requests of the current epoch.
type Progress struct {
	Epoch   uuid.UUID
	Started int
	Done    int
}

// Fraction is Done/Started, 1 when nothing was started.
func (p Progress) Fraction() float64 {
	if p.Started == 0 {
		return 1
	}
	return float64(p.Done) / float64(p.Started)
}

type epoch struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc

	// guarded by Fetcher.mu
	started int
	done    int
}

func newEpoch() *epoch {
	ctx, cancel := context.WithCancel(context.Background())
	return &epoch{id: uuid.New(), ctx: ctx, cancel: cancel}
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	src Source
	sem *semaphore.Weighted
	log sceneshare.Logger

	mu  sync.Mutex
	cur *epoch
}

func New(src Source, opts Options) *Fetcher {
	n := opts.MaxInFlight
	if n <= 0 {
		n = defaultMaxInFlight
	}
	log := opts.Logger
	if log == nil {
		log = sceneshare.NopLogger{}
	}
	return &Fetcher{
		src: src,
		sem: semaphore.NewWeighted(n),
		log: log,
		cur: newEpoch(),
	}
}

// FetchData reads path in the current epoch. The request ends early when
// ctx ends or when its epoch is aborted; in the latter case the error wraps
// ErrAborted even if the source already answered.
func (f *Fetcher) FetchData(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	ep := f.cur
	ep.started++
	f.mu.Unlock()
	return f.do(ctx, ep, path)
}

func (f *Fetcher) do(ctx context.Context, ep *epoch, path string) ([]byte, error) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ep.ctx, cancel)
	defer stop()

	b, err := f.fetch(rctx, path)

	f.mu.Lock()
	aborted := ep.ctx.Err() != nil
	if !aborted {
		ep.done++
	}
	f.mu.Unlock()

	if aborted {
		return nil, &FetchError{Path: path, Err: ErrAborted}
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			f.log.Debug("fetch failed", sceneshare.Fields{"path": path, "err": err})
		}
		return nil, &FetchError{Path: path, Err: err}
	}
	return b, nil
}

func (f *Fetcher) fetch(ctx context.Context, path string) ([]byte, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)
	return f.src.Fetch(ctx, path)
}

// Abort cancels every in-flight request. The fetcher stays usable: later
// requests join a new epoch.
func (f *Fetcher) Abort() {
	id, pending := f.rotate()
	f.log.Debug("fetch epoch aborted", sceneshare.Fields{"epoch": id.String(), "pending": pending})
}

// Reset opens a new epoch for the next scene build. Anything still running
// in the previous epoch is aborted.
func (f *Fetcher) Reset() {
	f.rotate()
}

func (f *Fetcher) rotate() (uuid.UUID, int) {
	f.mu.Lock()
	old := f.cur
	pending := old.started - old.done
	f.cur = newEpoch()
	f.mu.Unlock()
	old.cancel()
	return old.id, pending
}

func (f *Fetcher) Epoch() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur.id
}

// Bind returns a handle on the current epoch. Requests made through it
// after the epoch was aborted or reset fail with ErrAborted at once and are
// not counted in any later epoch's Progress.
func (f *Fetcher) Bind() *Scope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Scope{f: f, ep: f.cur}
}

func (f *Fetcher) Progress() Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Progress{Epoch: f.cur.id, Started: f.cur.started, Done: f.cur.done}
}

// Scope is a Fetcher bound to one epoch, handed to a single scene build.
type Scope struct {
	f  *Fetcher
	ep *epoch
}

func (s *Scope) FetchData(ctx context.Context, path string) ([]byte, error) {
	s.f.mu.Lock()
	if s.f.cur != s.ep {
		s.f.mu.Unlock()
		return nil, &FetchError{Path: path, Err: ErrAborted}
	}
	s.ep.started++
	s.f.mu.Unlock()
	return s.f.do(ctx, s.ep, path)
}

// Context is cancelled once the scope's epoch is aborted or reset.
func (s *Scope) Context() context.Context { return s.ep.ctx }

func (s *Scope) Epoch() uuid.UUID { return s.ep.id }

// Fetcher returns the session fetcher the scope was bound from. Objects
// that outlive one build, like a title's FileSystem, fetch through it.
func (s *Scope) Fetcher() *Fetcher { return s.f }

func (s *Scope) Progress() Progress {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	return Progress{Epoch: s.ep.id, Started: s.ep.started, Done: s.ep.done}
}
