package asynchook

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/unkn0wn-root/sceneshare"
)

type recorder struct {
	sceneshare.NopHooks
	mu     sync.Mutex
	events []string
	block  chan struct{}
}

func (r *recorder) add(s string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) ObjectBuilt(k string, _ uint64, _ time.Duration) { r.add("built " + k) }
func (r *recorder) MountFailed(p, tier string, _ error)             { r.add("mount " + tier + " " + p) }
func (r *recorder) SceneSuperseded(id string)                       { r.add("superseded " + id) }

func TestForwardsInOrder(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 1, 16)
	h.ObjectBuilt("q/FileSystem", 1, time.Millisecond)
	h.MountFailed("pak1.pak", "optional", errors.New("404"))
	h.SceneSuperseded("q1/e1m1")
	h.Close()

	want := []string{"built q/FileSystem", "mount optional pak1.pak", "superseded q1/e1m1"}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if h.Dropped() != 0 {
		t.Fatalf("dropped = %d", h.Dropped())
	}
}

func TestDropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	h := New(rec, 1, 1)
	// one event held by the worker, one queued, the rest dropped
	for i := 0; i < 10; i++ {
		h.SceneSuperseded("s")
	}
	if h.Dropped() == 0 {
		t.Fatalf("expected drops with a blocked sink")
	}
	close(rec.block)
	h.Close()

	h.SceneSuperseded("late")
	if got := h.Dropped(); got < 9 {
		t.Fatalf("dropped = %d, want >= 9", got)
	}
}
