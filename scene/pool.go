package scene

import (
	"reflect"
	"sync"

	"github.com/unkn0wn-root/sceneshare"
)

// Pool collects objects a scene needs released on teardown. It is drained
// once, in insertion order, and stays sealed afterwards: a superseded build
// pushing into its old pool gets the object destroyed on the spot instead
// of leaking it into a later scene's accounting.
type Pool struct {
	mu     sync.Mutex
	items  []sceneshare.Destroyable
	sealed bool
}

func NewPool() *Pool { return &Pool{} }

// Push appends d. It returns false, after destroying d, when the pool was
// already drained.
func (p *Pool) Push(d sceneshare.Destroyable) bool {
	p.mu.Lock()
	if p.sealed {
		p.mu.Unlock()
		d.Destroy()
		return false
	}
	p.items = append(p.items, d)
	p.mu.Unlock()
	return true
}

// Contains reports whether d was pushed and not yet drained. Values that
// cannot be compared, such as structs holding slices, are never reported
// as contained; push pointers to make them identifiable.
func (p *Pool) Contains(d sceneshare.Destroyable) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, it := range p.items {
		if sameObject(it, d) {
			return true
		}
	}
	return false
}

func sameObject(a, b sceneshare.Destroyable) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if !reflect.ValueOf(a).Comparable() || !reflect.ValueOf(b).Comparable() {
		return false
	}
	return a == b
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *Pool) Sealed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sealed
}

// Drain seals the pool and destroys its members in insertion order. It
// returns the number destroyed; later calls return 0.
func (p *Pool) Drain() int {
	p.mu.Lock()
	items := p.items
	p.items = nil
	p.sealed = true
	p.mu.Unlock()

	for _, d := range items {
		d.Destroy()
	}
	return len(items)
}
