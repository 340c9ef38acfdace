package mount

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/fetch"
)

// mapArchive holds files parsed from "name=data;name=data" archive bytes.
type mapArchive struct {
	files  map[string][]byte
	closed atomic.Bool
}

func (a *mapArchive) FetchFileData(_ context.Context, p string) ([]byte, bool, error) {
	b, ok := a.files[p]
	return b, ok, nil
}

func (a *mapArchive) Close() error {
	a.closed.Store(true)
	return nil
}

func parseMap(_ string, data []byte) (Archive, error) {
	if string(data) == "corrupt" {
		return nil, errors.New("bad header")
	}
	a := &mapArchive{files: map[string][]byte{}}
	for _, kv := range strings.Split(string(data), ";") {
		if k, v, ok := strings.Cut(kv, "="); ok {
			a.files[k] = []byte(v)
		}
	}
	return a, nil
}

// fakeFetcher serves archive bytes, optionally blocking on a per-path gate.
type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string]string
	gates map[string]chan struct{}
	calls map[string]int
}

func newFetcher(data map[string]string) *fakeFetcher {
	return &fakeFetcher{data: data, gates: map[string]chan struct{}{}, calls: map[string]int{}}
}

func (f *fakeFetcher) gate(p string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[p] = g
	return g
}

func (f *fakeFetcher) FetchData(ctx context.Context, p string) ([]byte, error) {
	f.mu.Lock()
	f.calls[p]++
	g := f.gates[p]
	d, ok := f.data[p]
	f.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, &fetch.FetchError{Path: p, Err: fetch.ErrNotFound}
	}
	return []byte(d), nil
}

func (f *fakeFetcher) count(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[p]
}

func (f *fakeFetcher) set(p, d string) {
	f.mu.Lock()
	f.data[p] = d
	f.mu.Unlock()
}

type mountHooks struct {
	sceneshare.NopHooks
	mu     sync.Mutex
	failed []string
}

func (h *mountHooks) MountFailed(path, tier string, _ error) {
	h.mu.Lock()
	h.failed = append(h.failed, tier+":"+path)
	h.mu.Unlock()
}

func newFS(f *fakeFetcher, opts Options) *FileSystem {
	return New(f, ParserFunc(parseMap), opts)
}

func TestMountIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFetcher(map[string]string{"paks/hl2_misc": "a=1"})
	fs := newFS(f, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fs.Mount(ctx, "paks/hl2_misc", Critical); err != nil {
				t.Errorf("Mount: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := fs.Mount(ctx, "paks/hl2_misc", Critical); err != nil {
		t.Fatal(err)
	}
	if n := f.count("paks/hl2_misc"); n != 1 {
		t.Fatalf("archive fetched %d times, want 1", n)
	}
}

func TestFailedMountIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFetcher(map[string]string{"p": "corrupt"})
	fs := newFS(f, Options{})

	err := fs.Mount(ctx, "p", Critical)
	var me *MountError
	if !errors.As(err, &me) || me.Path != "p" || me.Tier != Critical {
		t.Fatalf("got %v want MountError", err)
	}
	f.set("p", "x=1")
	if err := fs.Mount(ctx, "p", Critical); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := f.count("p"); n != 2 {
		t.Fatalf("fetch count = %d want 2", n)
	}
	want := []MountRequest{{Path: "p", Tier: Critical, State: Mounted}}
	if diff := cmp.Diff(want, fs.Requests()); diff != "" {
		t.Fatalf("requests (-want +got):\n%s", diff)
	}
}

func TestMountAllCriticalAndOptional(t *testing.T) {
	ctx := context.Background()
	f := newFetcher(map[string]string{
		"tf2_misc":     "a=tf2",
		"hl2_misc":     "a=hl2;b=hl2",
		"hl2_textures": "t=1",
	})
	slow := f.gate("hl2_textures")
	h := &mountHooks{}
	fs := newFS(f, Options{Hooks: h})

	err := fs.MountAll(ctx, []string{"tf2_misc", "hl2_misc"}, []string{"hl2_textures", "vo_missing"})
	if err != nil {
		t.Fatalf("MountAll: %v", err)
	}

	// the optional mount is still pending; critical files are already served
	if b, ok, _ := fs.FetchFileData(ctx, "a"); !ok || string(b) != "tf2" {
		t.Fatalf("a = %q %v, want first critical archive", b, ok)
	}
	if _, ok, _ := fs.FetchFileData(ctx, "t"); ok {
		t.Fatalf("optional archive visible before mounting")
	}

	close(slow)
	if err := fs.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if b, ok, _ := fs.FetchFileData(ctx, "t"); !ok || string(b) != "1" {
		t.Fatalf("t = %q %v", b, ok)
	}

	got := fs.Requests()
	wantOrder := []string{"tf2_misc", "hl2_misc", "hl2_textures", "vo_missing"}
	for i, r := range got {
		if r.Path != wantOrder[i] {
			t.Fatalf("order[%d] = %q want %q", i, r.Path, wantOrder[i])
		}
	}
	if got[3].State != Failed || got[3].Tier != Optional {
		t.Fatalf("vo_missing = %+v", got[3])
	}
	if diff := cmp.Diff([]string{"optional:vo_missing"}, h.failed); diff != "" {
		t.Fatalf("hooks (-want +got):\n%s", diff)
	}
}

func TestMountAllReturnsFirstCriticalFailure(t *testing.T) {
	ctx := context.Background()
	f := newFetcher(map[string]string{"ok": "a=1"})
	block := f.gate("ok")
	defer close(block)
	fs := newFS(f, Options{})

	done := make(chan error, 1)
	go func() { done <- fs.MountAll(ctx, []string{"ok", "missing"}, nil) }()

	select {
	case err := <-done:
		if !errors.Is(err, fetch.ErrNotFound) {
			t.Fatalf("got %v want ErrNotFound", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("MountAll waited for the slow mount after a failure")
	}
}

func TestToggleMount(t *testing.T) {
	ctx := context.Background()
	f := newFetcher(map[string]string{"base": "x=base", "dlc": "x=dlc;y=dlc"})
	fs := newFS(f, Options{})
	if err := fs.MountAll(ctx, []string{"base"}, nil); err != nil {
		t.Fatal(err)
	}

	if err := fs.ToggleMount(ctx, "dlc", true); err != nil {
		t.Fatal(err)
	}
	if b, ok, _ := fs.FetchFileData(ctx, "y"); !ok || string(b) != "dlc" {
		t.Fatalf("y = %q %v", b, ok)
	}
	if b, _, _ := fs.FetchFileData(ctx, "x"); string(b) != "base" {
		t.Fatalf("x = %q, base mount must win", b)
	}

	dlc := fs.order[1].archive.(*mapArchive)
	if err := fs.ToggleMount(ctx, "dlc", false); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := fs.FetchFileData(ctx, "y"); ok {
		t.Fatalf("y still visible after unmount")
	}
	if !dlc.closed.Load() {
		t.Fatalf("unmounted archive was not closed")
	}
	if err := fs.ToggleMount(ctx, "never", false); err != nil {
		t.Fatalf("unmount unknown: %v", err)
	}
}

func TestUnmountWhilePending(t *testing.T) {
	ctx := context.Background()
	f := newFetcher(map[string]string{"p": "k=v"})
	g := f.gate("p")
	fs := newFS(f, Options{})

	errc := make(chan error, 1)
	go func() { errc <- fs.Mount(ctx, "p", Optional) }()
	for f.count("p") == 0 {
		time.Sleep(time.Millisecond)
	}
	_ = fs.ToggleMount(ctx, "p", false)
	close(g)
	<-errc
	_ = fs.Wait(ctx)

	if _, ok, _ := fs.FetchFileData(ctx, "k"); ok {
		t.Fatalf("archive unmounted while pending became visible")
	}
	if len(fs.Requests()) != 0 {
		t.Fatalf("requests = %+v", fs.Requests())
	}
}

func TestFetchFileDataSearchOrder(t *testing.T) {
	ctx := context.Background()
	f := newFetcher(map[string]string{
		"vpk":           "shared=vpk;only=vpk",
		"loose/on_disk": "ignored",
		"loose/extra":   "from-host",
	})
	fs := newFS(f, Options{LooseRoot: "loose"})
	if err := fs.Mount(ctx, "vpk", Critical); err != nil {
		t.Fatal(err)
	}
	fs.AddArchive(&mapArchive{files: map[string][]byte{"shared": []byte("pak")}})
	fs.AddLooseFiles(map[string][]byte{"only": []byte("dropped"), "dropped": []byte("d")})

	cases := []struct {
		path string
		want string
		ok   bool
	}{
		{"shared", "pak", true},
		{"only", "vpk", true},
		{"dropped", "d", true},
		{"extra", "from-host", true},
		{"nowhere", "", false},
	}
	for _, tc := range cases {
		b, ok, err := fs.FetchFileData(ctx, tc.path)
		if err != nil || ok != tc.ok || string(b) != tc.want {
			t.Fatalf("%s: got %q ok=%v err=%v", tc.path, b, ok, err)
		}
	}
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	f := newFetcher(map[string]string{"a": "x=1"})
	fs := newFS(f, Options{})
	_ = fs.Mount(ctx, "a", Critical)
	a := fs.order[0].archive.(*mapArchive)

	fs.Destroy()
	fs.Destroy()
	if !a.closed.Load() {
		t.Fatalf("archive not closed")
	}
	if err := fs.Mount(ctx, "a", Critical); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v want ErrClosed", err)
	}
	opts := cmpopts.EquateEmpty()
	if diff := cmp.Diff([]MountRequest{}, fs.Requests(), opts); diff != "" {
		t.Fatalf("requests after destroy:\n%s", diff)
	}
}

// stallSource blocks the first fetch of each listed path until its epoch is
// aborted; later fetches answer "x=1".
type stallSource struct {
	mu      sync.Mutex
	stall   map[string]bool
	entered chan string
}

func newStall(paths ...string) *stallSource {
	s := &stallSource{stall: map[string]bool{}, entered: make(chan string, len(paths))}
	for _, p := range paths {
		s.stall[p] = true
	}
	return s
}

func (s *stallSource) Fetch(ctx context.Context, p string) ([]byte, error) {
	s.mu.Lock()
	stall := s.stall[p]
	delete(s.stall, p)
	s.mu.Unlock()
	if stall {
		s.entered <- p
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte("x=1"), nil
}

func TestAbortedMountRestartsForLiveCaller(t *testing.T) {
	src := newStall("base.pak")
	f := fetch.New(src, fetch.Options{})
	h := &mountHooks{}
	fs := New(f, ParserFunc(parseMap), Options{Hooks: h})

	// the previous scene starts the mount, then is switched away from
	prev, cancelPrev := context.WithCancel(context.Background())
	prevErr := make(chan error, 1)
	go func() { prevErr <- fs.Mount(prev, "base.pak", Critical) }()
	<-src.entered

	nextErr := make(chan error, 1)
	go func() { nextErr <- fs.MountAll(context.Background(), []string{"base.pak"}, nil) }()

	cancelPrev()
	f.Abort()

	select {
	case err := <-nextErr:
		if err != nil {
			t.Fatalf("next scene mount: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("next scene mount did not finish")
	}
	if err := <-prevErr; err == nil {
		t.Fatalf("cancelled caller reported success")
	}
	if got := fs.Requests(); len(got) != 1 || got[0].State != Mounted {
		t.Fatalf("requests = %+v", got)
	}
	if len(h.failed) != 0 {
		t.Fatalf("aborts reported as failures: %v", h.failed)
	}
}

func TestMountAllRestartsAbortedOptional(t *testing.T) {
	ctx := context.Background()
	src := newStall("audio.pak")
	f := fetch.New(src, fetch.Options{})
	fs := New(f, ParserFunc(parseMap), Options{})

	if err := fs.MountAll(ctx, []string{"base.pak"}, []string{"audio.pak"}); err != nil {
		t.Fatalf("MountAll: %v", err)
	}
	<-src.entered
	f.Abort()
	if err := fs.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if got := fs.Requests(); got[1].State != Failed || !errors.Is(got[1].Err, fetch.ErrAborted) {
		t.Fatalf("audio.pak after abort = %+v", got[1])
	}

	// the next scene of the title asks again
	if err := fs.MountAll(ctx, []string{"base.pak"}, []string{"audio.pak"}); err != nil {
		t.Fatalf("MountAll again: %v", err)
	}
	if err := fs.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := fs.FetchFileData(ctx, "x"); !ok {
		t.Fatalf("file missing after remount")
	}
	for _, r := range fs.Requests() {
		if r.State != Mounted {
			t.Fatalf("%s = %s", r.Path, r.State)
		}
	}
}

func TestDoneCallerStartsNoMount(t *testing.T) {
	f := newFetcher(map[string]string{"a": "x=1"})
	fs := newFS(f, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fs.Mount(ctx, "a", Critical); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
	if n := f.count("a"); n != 0 {
		t.Fatalf("fetch count = %d", n)
	}
}

// stuckSource holds the first fetch until release, whatever its ctx says.
type stuckSource struct {
	n       atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *stuckSource) Fetch(_ context.Context, p string) ([]byte, error) {
	if s.n.Add(1) == 1 {
		close(s.entered)
		<-s.release
		return []byte("x=old"), nil
	}
	return []byte("x=new"), nil
}

func TestPendingMountOfAbortedEpochIsReplaced(t *testing.T) {
	ctx := context.Background()
	src := &stuckSource{entered: make(chan struct{}), release: make(chan struct{})}
	f := fetch.New(src, fetch.Options{})
	fs := New(f, ParserFunc(parseMap), Options{})

	if err := fs.MountAll(ctx, nil, []string{"audio.pak"}); err != nil {
		t.Fatal(err)
	}
	<-src.entered
	f.Abort()

	// the first attempt is still stuck in the source; a new one starts anyway
	if err := fs.MountAll(ctx, nil, []string{"audio.pak"}); err != nil {
		t.Fatal(err)
	}
	if err := fs.Mount(ctx, "audio.pak", Optional); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if b, ok, _ := fs.FetchFileData(ctx, "x"); !ok || string(b) != "new" {
		t.Fatalf("x = %q %v", b, ok)
	}

	close(src.release)
	if err := fs.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	want := []MountRequest{{Path: "audio.pak", Tier: Optional, State: Mounted}}
	if diff := cmp.Diff(want, fs.Requests()); diff != "" {
		t.Fatalf("requests (-want +got):\n%s", diff)
	}
}
