package archivescene

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/fetch"
	"github.com/unkn0wn-root/sceneshare/internal/headless"
	"github.com/unkn0wn-root/sceneshare/mount"
	"github.com/unkn0wn-root/sceneshare/scene"
)

type mapArchive struct {
	files map[string][]byte
}

func (a *mapArchive) FetchFileData(_ context.Context, p string) ([]byte, bool, error) {
	b, ok := a.files[p]
	return b, ok, nil
}

// countingParser parses "name=data;name=data" archives.
type countingParser struct{ n atomic.Int32 }

func (p *countingParser) Parse(_ string, data []byte) (mount.Archive, error) {
	p.n.Add(1)
	a := &mapArchive{files: map[string][]byte{}}
	for _, kv := range strings.Split(string(data), ";") {
		if k, v, ok := strings.Cut(kv, "="); ok {
			a.files[k] = []byte(v)
		}
	}
	return a, nil
}

type builtScene struct {
	mapData string
	fs      *mount.FileSystem
}

func (*builtScene) Destroy() {}

func render(_ context.Context, _ *scene.Context, fs *mount.FileSystem, mapData []byte) (scene.Scene, error) {
	return &builtScene{mapData: string(mapData), fs: fs}, nil
}

func newContext(t *testing.T, files fstest.MapFS) *scene.Context {
	t.Helper()
	sh, err := sceneshare.New(sceneshare.Options{})
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	t.Cleanup(func() { _ = sh.Close(context.Background()) })
	return &scene.Context{
		Fetcher: fetch.New(fetch.FSSource{FS: files}, fetch.Options{}).Bind(),
		Share:   sh,
		Pool:    scene.NewPool(),
	}
}

func TestBuildSharesTitleFileSystem(t *testing.T) {
	files := fstest.MapFS{
		"base.pak":  {Data: []byte("maps/a.bsp=A;maps/b.bsp=B")},
		"extra.pak": {Data: []byte("textures/x=1")},
	}
	sc := newContext(t, files)
	parser := &countingParser{}

	a, err := New(Config{ID: "q/a", Title: "q", Critical: []string{"base.pak"}, MapPath: "maps/a.bsp"}, parser, RendererFunc(render))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	b, err := New(Config{ID: "q/b", Title: "q", Critical: []string{"base.pak"}, Mounts: []string{"extra.pak"}, MapPath: "maps/b.bsp"}, parser, RendererFunc(render))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	sa, err := a.Build(context.Background(), sc)
	if err != nil {
		t.Fatalf("build a: %v", err)
	}
	sb, err := b.Build(context.Background(), sc)
	if err != nil {
		t.Fatalf("build b: %v", err)
	}

	if got := sa.(*builtScene).mapData; got != "A" {
		t.Fatalf("a map = %q", got)
	}
	if got := sb.(*builtScene).mapData; got != "B" {
		t.Fatalf("b map = %q", got)
	}
	if sa.(*builtScene).fs != sb.(*builtScene).fs {
		t.Fatalf("scenes of one title must share the FileSystem")
	}
	// base.pak once, extra.pak once
	if got := parser.n.Load(); got != 2 {
		t.Fatalf("parses = %d, want 2", got)
	}
	if !sc.Share.Has("q/FileSystem") || !sc.Share.Has("q/maps/a.bsp") {
		t.Fatalf("expected FileSystem and map cached")
	}
	if _, ok, _ := sb.(*builtScene).fs.FetchFileData(context.Background(), "textures/x"); !ok {
		t.Fatalf("extra mount not visible")
	}
}

func TestBuildFallsBackToFetcherForMap(t *testing.T) {
	files := fstest.MapFS{
		"base.pak":    {Data: []byte("other=1")},
		"maps/c.json": {Data: []byte("C")},
	}
	sc := newContext(t, files)
	d, err := New(Config{ID: "t/c", Title: "t", Critical: []string{"base.pak"}, MapPath: "maps/c.json"}, &countingParser{}, RendererFunc(render))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s, err := d.Build(context.Background(), sc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := s.(*builtScene).mapData; got != "C" {
		t.Fatalf("map = %q", got)
	}
}

func TestBuildMissingMap(t *testing.T) {
	sc := newContext(t, fstest.MapFS{"base.pak": {Data: []byte("x=1")}})
	d, err := New(Config{ID: "t/m", Title: "t", Critical: []string{"base.pak"}, MapPath: "nope.bsp"}, &countingParser{}, RendererFunc(render))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = d.Build(context.Background(), sc)
	if !errors.Is(err, ErrNoMap) {
		t.Fatalf("want ErrNoMap, got %v", err)
	}
	if sc.Share.Has(d.MapKey()) {
		t.Fatalf("failed map load must not be cached")
	}
}

func TestBuildCriticalMountFailure(t *testing.T) {
	files := fstest.MapFS{}
	sc := newContext(t, files)
	d, err := New(Config{ID: "t/x", Title: "t", Critical: []string{"missing.pak"}, MapPath: "m"}, &countingParser{}, RendererFunc(render))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = d.Build(context.Background(), sc)
	var me *mount.MountError
	if !errors.As(err, &me) || me.Path != "missing.pak" {
		t.Fatalf("want MountError for missing.pak, got %v", err)
	}

	// the next build retries the failed mount on the cached FileSystem
	files["missing.pak"] = &fstest.MapFile{Data: []byte("m=M")}
	s, err := d.Build(context.Background(), sc)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got := s.(*builtScene).mapData; got != "M" {
		t.Fatalf("map = %q", got)
	}
}

func TestNewValidates(t *testing.T) {
	p, r := &countingParser{}, RendererFunc(render)
	cases := []Config{
		{Title: "t", MapPath: "m"},
		{ID: "a/b", MapPath: "m"},
		{ID: "a/b", Title: "t"},
	}
	for _, c := range cases {
		if _, err := New(c, p, r); err == nil {
			t.Fatalf("New(%+v) succeeded", c)
		}
	}
	if _, err := New(Config{ID: "a/b", Title: "t", MapPath: "m"}, nil, r); err == nil {
		t.Fatalf("nil parser accepted")
	}
}

// stallFS serves files, holding the first fetch of each stalled path until
// its request is cancelled.
type stallFS struct {
	files fetch.FSSource

	mu      sync.Mutex
	stall   map[string]bool
	entered chan string
}

func (s *stallFS) Fetch(ctx context.Context, p string) ([]byte, error) {
	s.mu.Lock()
	stall := s.stall[p]
	delete(s.stall, p)
	s.mu.Unlock()
	if stall {
		s.entered <- p
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.files.Fetch(ctx, p)
}

func newController(t *testing.T, src fetch.Source) *scene.Controller {
	t.Helper()
	sh, err := sceneshare.New(sceneshare.Options{})
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	c, err := scene.New(scene.Options{
		Share:   sh,
		Fetcher: fetch.New(src, fetch.Options{}),
		Viewer:  headless.NewViewer(),
	})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	t.Cleanup(func() {
		c.Close(context.Background())
		_ = sh.Close(context.Background())
	})
	return c
}

func waitLive(t *testing.T, tx *scene.Transaction) scene.Liveness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l, err := tx.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("%s did not finish", tx.Descriptor().ID())
	}
	return l
}

func TestSwitchWithinTitleWhileMounting(t *testing.T) {
	src := &stallFS{
		files: fetch.FSSource{FS: fstest.MapFS{
			"base.pak":  {Data: []byte("maps/a.bsp=A;maps/b.bsp=B")},
			"audio.pak": {Data: []byte("sound/x=1")},
		}},
		stall:   map[string]bool{"base.pak": true, "audio.pak": true},
		entered: make(chan string, 2),
	}
	c := newController(t, src)
	parser := &countingParser{}
	cfg := Config{Title: "q", Critical: []string{"base.pak"}, Optional: []string{"audio.pak"}}

	cfg.ID, cfg.MapPath = "q/a", "maps/a.bsp"
	a, err := New(cfg, parser, RendererFunc(render))
	if err != nil {
		t.Fatal(err)
	}
	cfg.ID, cfg.MapPath = "q/b", "maps/b.bsp"
	b, err := New(cfg, parser, RendererFunc(render))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	ta := c.Request(ctx, a, "", false)
	<-src.entered
	<-src.entered

	tb := c.Request(ctx, b, "", false)
	if l := waitLive(t, tb); l != scene.Installed {
		t.Fatalf("b = %s (err %v)", l, tb.Err())
	}
	if l := waitLive(t, ta); l != scene.Superseded {
		t.Fatalf("a = %s", l)
	}

	_, s := c.Current()
	fs := s.(*builtScene).fs
	if err := fs.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	for _, r := range fs.Requests() {
		if r.State != mount.Mounted {
			t.Fatalf("%s = %s (%v)", r.Path, r.State, r.Err)
		}
	}
	if _, ok, _ := fs.FetchFileData(ctx, "sound/x"); !ok {
		t.Fatalf("optional archive lost across the switch")
	}
}
