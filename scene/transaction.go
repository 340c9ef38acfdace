package scene

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type Liveness int

const (
	Loading Liveness = iota
	Installed
	Superseded
	Failed
)

func (l Liveness) String() string {
	switch l {
	case Loading:
		return "loading"
	case Installed:
		return "installed"
	case Superseded:
		return "superseded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transaction is one attempt to load and install a scene.
type Transaction struct {
	id   uuid.UUID
	desc Descriptor
	done chan struct{}

	mu       sync.Mutex
	liveness Liveness
	err      error
	pending  string // save state to apply on install
}

func newTransaction(desc Descriptor, state string) *Transaction {
	return &Transaction{
		id:      uuid.New(),
		desc:    desc,
		done:    make(chan struct{}),
		pending: state,
	}
}

func (t *Transaction) ID() uuid.UUID          { return t.id }
func (t *Transaction) Descriptor() Descriptor { return t.desc }

func (t *Transaction) Liveness() Liveness {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveness
}

// Done is closed once the build finished and the transaction reached its
// final liveness.
func (t *Transaction) Done() <-chan struct{} { return t.done }

// Err is the build error of a Failed transaction.
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until Done and returns the final liveness.
func (t *Transaction) Wait(ctx context.Context) (Liveness, error) {
	select {
	case <-t.done:
		return t.Liveness(), t.Err()
	case <-ctx.Done():
		return t.Liveness(), ctx.Err()
	}
}

func (t *Transaction) setLiveness(l Liveness) {
	t.mu.Lock()
	t.liveness = l
	t.mu.Unlock()
}

func (t *Transaction) fail(err error) {
	t.mu.Lock()
	t.liveness, t.err = Failed, err
	t.mu.Unlock()
}

// setPending replaces the state applied on install. Empty keeps the
// previous one.
func (t *Transaction) setPending(state string) {
	if state == "" {
		return
	}
	t.mu.Lock()
	t.pending = state
	t.mu.Unlock()
}

func (t *Transaction) pendingState() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}
