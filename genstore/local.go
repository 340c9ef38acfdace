package genstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type localCounter struct {
	gen     atomic.Uint64
	touched atomic.Int64 // unix nanos of the last bump
}

// LocalGenStore keeps generations in-process. It is the default for a
// single viewer.
type LocalGenStore struct {
	counters sync.Map // string -> *localCounter
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore() *LocalGenStore { return &LocalGenStore{} }

func (s *LocalGenStore) counter(k string) *localCounter {
	if c, ok := s.counters.Load(k); ok {
		return c.(*localCounter)
	}
	c, _ := s.counters.LoadOrStore(k, new(localCounter))
	return c.(*localCounter)
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	c, ok := s.counters.Load(k)
	if !ok {
		return 0, nil
	}
	return c.(*localCounter).gen.Load(), nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	c := s.counter(k)
	g := c.gen.Add(1)
	c.touched.Store(time.Now().UnixNano())
	return g, nil
}

// UpdatedAt reports when k was last bumped; zero if never.
func (s *LocalGenStore) UpdatedAt(k string) time.Time {
	c, ok := s.counters.Load(k)
	if !ok {
		return time.Time{}
	}
	n := c.(*localCounter).touched.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *LocalGenStore) Close(context.Context) error { return nil }
