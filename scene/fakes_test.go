package scene

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/fetch"
	"github.com/unkn0wn-root/sceneshare/provider/bigcache"
	"github.com/unkn0wn-root/sceneshare/savemanager"
	"github.com/unkn0wn-root/sceneshare/savestate"
)

// journal records destroy order across fakes.
type journal struct {
	mu  sync.Mutex
	log []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.log = append(j.log, s)
	j.mu.Unlock()
}

func (j *journal) entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.log...)
}

type resource struct {
	name string
	j    *journal
}

func (r *resource) Destroy() { r.j.add("destroy " + r.name) }

// fakeScene carries one byte of scene state.
type fakeScene struct {
	name     string
	j        *journal
	value    byte
	notify   func()
	defaults *savestate.Mat4
}

func (s *fakeScene) Destroy() { s.j.add("destroy " + s.name) }

func (s *fakeScene) SerializeSaveState(buf []byte, off int) int {
	buf[off] = s.value
	return off + 1
}

func (s *fakeScene) DeserializeSaveState(buf []byte, off, length int) int {
	if length-off < 1 {
		return off
	}
	s.value = buf[off]
	return off + 1
}

func (s *fakeScene) SetOnStateChanged(fn func()) { s.notify = fn }

type defaultCamScene struct {
	*fakeScene
	m savestate.Mat4
}

func (s *defaultCamScene) DefaultWorldMatrix() savestate.Mat4 { return s.m }

// fakeDesc builds a fakeScene, optionally blocking on gate.
type fakeDesc struct {
	id    string
	j     *journal
	gate  chan struct{}
	err   error
	build func(ctx context.Context, sc *Context) (Scene, error)

	mu     sync.Mutex
	builds int
	last   *Context
}

func (d *fakeDesc) ID() string { return d.id }

func (d *fakeDesc) Build(ctx context.Context, sc *Context) (Scene, error) {
	d.mu.Lock()
	d.builds++
	d.last = sc
	n := d.builds
	d.mu.Unlock()
	if d.gate != nil {
		<-d.gate
	}
	if d.build != nil {
		return d.build(ctx, sc)
	}
	if d.err != nil {
		return nil, d.err
	}
	return &fakeScene{name: d.id + "#" + strconv.Itoa(n), j: d.j}, nil
}

func (d *fakeDesc) buildCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.builds
}

func (d *fakeDesc) context() *Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

type fakeViewer struct {
	mu        sync.Mutex
	scene     Scene
	cam       savestate.Camera
	cc        CameraController
	sceneTime float64
	playing   bool
	sets      int
}

func (v *fakeViewer) SetScene(s Scene) {
	v.mu.Lock()
	v.scene = s
	v.sets++
	v.mu.Unlock()
}

func (v *fakeViewer) Scene() Scene {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scene
}

func (v *fakeViewer) Camera() savestate.Camera {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cam
}

func (v *fakeViewer) SetCamera(c savestate.Camera) {
	v.mu.Lock()
	v.cam = c
	v.mu.Unlock()
}

func (v *fakeViewer) CameraController() CameraController {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cc
}

func (v *fakeViewer) SetCameraController(cc CameraController) {
	v.mu.Lock()
	v.cc = cc
	v.mu.Unlock()
}

func (v *fakeViewer) SceneTime() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sceneTime
}

func (v *fakeViewer) SetSceneTime(t float64) {
	v.mu.Lock()
	v.sceneTime = t
	v.mu.Unlock()
}

func (v *fakeViewer) SetPlaying(p bool) {
	v.mu.Lock()
	v.playing = p
	v.mu.Unlock()
}

func (v *fakeViewer) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

type links struct {
	mu       sync.Mutex
	shared   []string
	replaced []string
}

func (l *links) SetShareLink(h string) {
	l.mu.Lock()
	l.shared = append(l.shared, h)
	l.mu.Unlock()
}

func (l *links) ReplaceLocation(h string) {
	l.mu.Lock()
	l.replaced = append(l.replaced, h)
	l.mu.Unlock()
}

func (l *links) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.shared), len(l.replaced)
}

type reporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *reporter) ReportError(_ string, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

type sceneHooks struct {
	sceneshare.NopHooks
	mu         sync.Mutex
	superseded []string
	rejected   []string
}

func (h *sceneHooks) SceneSuperseded(id string) {
	h.mu.Lock()
	h.superseded = append(h.superseded, id)
	h.mu.Unlock()
}

func (h *sceneHooks) SaveStateRejected(reason string, _ error) {
	h.mu.Lock()
	h.rejected = append(h.rejected, reason)
	h.mu.Unlock()
}

type descs map[string]Descriptor

func (d descs) Descriptor(id string) (Descriptor, bool) {
	desc, ok := d[id]
	return desc, ok
}

type nopSource struct{}

func (nopSource) Fetch(context.Context, string) ([]byte, error) { return nil, fetch.ErrNotFound }

type rig struct {
	c      *Controller
	share  *sceneshare.Share
	viewer *fakeViewer
	saves  *savemanager.Manager
	links  *links
	errs   *reporter
	hooks  *sceneHooks
	j      *journal
	clock  *clock
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newRig(t *testing.T, tweak func(*Options)) *rig {
	t.Helper()
	share, err := sceneshare.New(sceneshare.Options{})
	if err != nil {
		t.Fatal(err)
	}
	p, err := bigcache.New(bigcache.Config{})
	if err != nil {
		t.Fatal(err)
	}
	saves, err := savemanager.New(savemanager.Options{Provider: p})
	if err != nil {
		t.Fatal(err)
	}
	r := &rig{
		share:  share,
		viewer: &fakeViewer{},
		saves:  saves,
		links:  &links{},
		errs:   &reporter{},
		hooks:  &sceneHooks{},
		j:      &journal{},
		clock:  &clock{t: time.Unix(1700000000, 0)},
	}
	opts := Options{
		Share:   share,
		Fetcher: fetch.New(nopSource{}, fetch.Options{}),
		Viewer:  r.viewer,
		Saves:   saves,
		Links:   r.links,
		Errors:  r.errs,
		Hooks:   r.hooks,
		Now:     r.clock.Now,
	}
	if tweak != nil {
		tweak(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	r.c = c
	t.Cleanup(func() {
		c.Close(context.Background())
		_ = share.Close(context.Background())
		_ = saves.Close(context.Background())
	})
	return r
}

func (r *rig) desc(id string) *fakeDesc { return &fakeDesc{id: id, j: r.j} }

func waitFor(t *testing.T, tx *Transaction, want Liveness) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := tx.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("transaction %s did not finish", tx.Descriptor().ID())
	}
	if got != want {
		t.Fatalf("liveness = %s want %s (err %v)", got, want, err)
	}
}

func pose(x, y, z float32) savestate.Camera {
	m := savestate.Identity()
	m[12], m[13], m[14] = x, y, z
	return savestate.Camera{WorldMatrix: m}
}

func stateFor(t *testing.T, cam savestate.Camera, sceneByte byte) string {
	t.Helper()
	text, err := savestate.Serialize(savestate.FormShareData, savestate.State{Camera: cam, SceneData: []byte{sceneByte}})
	if err != nil {
		t.Fatal(err)
	}
	return text
}
