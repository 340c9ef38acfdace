// Package mount assembles a title's archive set into one FileSystem.
//
// Archives are mounted asynchronously. Critical archives must be present
// before a scene of the title can build; optional ones (localized audio,
// extra texture packs) are mounted in the background and a failure only
// gets logged.
package mount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/fetch"
)

// Archive is a mounted container of files.
type Archive interface {
	// FetchFileData returns (data, true, nil) when the archive holds path.
	FetchFileData(ctx context.Context, path string) ([]byte, bool, error)
}

// ArchiveParser turns downloaded archive bytes into an Archive.
type ArchiveParser interface {
	Parse(path string, data []byte) (Archive, error)
}

// ParserFunc adapts a function to ArchiveParser.
type ParserFunc func(path string, data []byte) (Archive, error)

func (f ParserFunc) Parse(path string, data []byte) (Archive, error) { return f(path, data) }

// Fetcher downloads archive bytes. *fetch.Fetcher satisfies it.
type Fetcher interface {
	FetchData(ctx context.Context, path string) ([]byte, error)
}

// binder is implemented by fetchers with abortable epochs. Each mount then
// fetches in the epoch it was started in, and a pending mount whose epoch
// was aborted is started over instead of joined.
type binder interface {
	Bind() *fetch.Scope
}

type Tier int

const (
	Critical Tier = iota
	Optional
)

func (t Tier) String() string {
	if t == Optional {
		return "optional"
	}
	return "critical"
}

type State int

const (
	Pending State = iota
	Mounted
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Mounted:
		return "mounted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MountRequest is a snapshot of one entry of the mount table.
type MountRequest struct {
	Path  string
	Tier  Tier
	State State
	Err   error
}

type request struct {
	path  string
	tier  Tier
	done  chan struct{}
	scope *fetch.Scope // nil unless the fetcher is a binder

	// guarded by FileSystem.mu
	state   State
	err     error
	archive Archive
}

type Options struct {
	Logger sceneshare.Logger
	Hooks  sceneshare.Hooks

	// LooseRoot, when set, makes FetchFileData fall back to fetching
	// LooseRoot/<path> for files no archive holds.
	LooseRoot string
}

// FileSystem is the mount table of one title. Safe for concurrent use.
type FileSystem struct {
	fetcher   Fetcher
	parser    ArchiveParser
	log       sceneshare.Logger
	hooks     sceneshare.Hooks
	looseRoot string

	mu       sync.Mutex
	mounts   map[string]*request
	order    []*request // request order; FetchFileData searches in this order
	overlays []Archive  // most recent last; searched first
	loose    map[string][]byte
	closed   bool

	bg sync.WaitGroup
}

func New(fetcher Fetcher, parser ArchiveParser, opts Options) *FileSystem {
	fs := &FileSystem{
		fetcher:   fetcher,
		parser:    parser,
		log:       opts.Logger,
		hooks:     opts.Hooks,
		looseRoot: opts.LooseRoot,
		mounts:    make(map[string]*request),
		loose:     make(map[string][]byte),
	}
	if fs.log == nil {
		fs.log = sceneshare.NopLogger{}
	}
	if fs.hooks == nil {
		fs.hooks = sceneshare.NopHooks{}
	}
	return fs
}

// maxAbortRetries bounds how often one caller restarts a mount whose fetch
// was aborted by a scene switch.
const maxAbortRetries = 3

// start returns the live request for path, starting one when path is
// unknown or its last attempt failed. A caller whose ctx is done starts
// nothing.
func (fs *FileSystem) start(ctx context.Context, path string, tier Tier) (*request, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil, ErrClosed
	}
	if r, ok := fs.mounts[path]; ok && r.state != Failed && !r.stale() {
		return r, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := &request{path: path, tier: tier, done: make(chan struct{})}
	if b, ok := fs.fetcher.(binder); ok {
		r.scope = b.Bind()
	}
	fs.replace(r)
	fs.mounts[path] = r

	fs.bg.Add(1)
	go fs.run(context.WithoutCancel(ctx), r)
	return r, nil
}

// stale reports a pending request whose fetch epoch was aborted.
func (r *request) stale() bool {
	return r.state == Pending && r.scope != nil && r.scope.Context().Err() != nil
}

// replace drops the previous request for r.path from the order list and
// appends r. Caller holds fs.mu.
func (fs *FileSystem) replace(r *request) {
	fs.removeLocked(r.path)
	fs.order = append(fs.order, r)
}

func (fs *FileSystem) removeLocked(path string) {
	for i, o := range fs.order {
		if o.path == path {
			fs.order = append(fs.order[:i], fs.order[i+1:]...)
			break
		}
	}
	delete(fs.mounts, path)
}

func (fs *FileSystem) run(ctx context.Context, r *request) {
	defer fs.bg.Done()

	var f Fetcher = fs.fetcher
	if r.scope != nil {
		f = r.scope
	}
	a, err := fs.load(ctx, f, r.path)

	fs.mu.Lock()
	live := fs.mounts[r.path] == r && !fs.closed
	if err != nil {
		r.state, r.err = Failed, &MountError{Path: r.path, Tier: r.tier, Err: err}
	} else {
		r.state, r.archive = Mounted, a
	}
	fs.mu.Unlock()
	close(r.done)

	if errors.Is(err, fetch.ErrAborted) {
		fs.log.Debug("mount aborted", sceneshare.Fields{"path": r.path, "tier": r.tier.String()})
		return
	}
	if err != nil {
		fs.log.Warn("mount failed", sceneshare.Fields{"path": r.path, "tier": r.tier.String(), "err": err})
		fs.hooks.MountFailed(r.path, r.tier.String(), err)
		return
	}
	if !live {
		// unmounted or closed while loading
		closeArchive(a)
		return
	}
	fs.log.Debug("mounted", sceneshare.Fields{"path": r.path, "tier": r.tier.String()})
}

func (fs *FileSystem) load(ctx context.Context, f Fetcher, path string) (Archive, error) {
	data, err := f.FetchData(ctx, path)
	if err != nil {
		return nil, err
	}
	a, err := fs.parser.Parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return a, nil
}

func wait(ctx context.Context, r *request) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for r. A request aborted together with the fetch epoch it ran
// in, typically a previous scene's, is restarted while ctx is live.
func (fs *FileSystem) await(ctx context.Context, r *request) error {
	for i := 0; ; i++ {
		err := wait(ctx, r)
		if err == nil || i == maxAbortRetries || ctx.Err() != nil || !errors.Is(err, fetch.ErrAborted) {
			return err
		}
		if r, err = fs.start(ctx, r.path, r.tier); err != nil {
			return err
		}
	}
}

// Mount mounts path. Mounting an already mounted path is a no-op, a pending
// mount is joined, and a failed or aborted one is retried.
func (fs *FileSystem) Mount(ctx context.Context, path string, tier Tier) error {
	r, err := fs.start(ctx, path, tier)
	if err != nil {
		return err
	}
	return fs.await(ctx, r)
}

// MountAll starts every mount, critical then optional in list order, and
// waits for the critical ones. It returns once all critical mounts are done
// or on the first failure. Optional failures are logged and reported to
// Hooks.MountFailed, never returned. Calling it again restarts whatever
// failed or was aborted and leaves mounted paths alone.
func (fs *FileSystem) MountAll(ctx context.Context, critical, optional []string) error {
	reqs := make([]*request, 0, len(critical))
	for _, p := range critical {
		r, err := fs.start(ctx, p, Critical)
		if err != nil {
			return err
		}
		reqs = append(reqs, r)
	}
	for _, p := range optional {
		if _, err := fs.start(ctx, p, Optional); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range reqs {
		g.Go(func() error { return fs.await(gctx, r) })
	}
	return g.Wait()
}

// ToggleMount mounts path (forceOn) or unmounts it. It is meant for
// FileSystems already held by the session cache, where a scene needs one
// more archive than the title's base set.
func (fs *FileSystem) ToggleMount(ctx context.Context, path string, forceOn bool) error {
	if forceOn {
		return fs.Mount(ctx, path, Critical)
	}
	fs.mu.Lock()
	r, ok := fs.mounts[path]
	var a Archive
	if ok {
		fs.removeLocked(path)
		// a pending request is closed by run once it sees it is no longer live
		if r.state == Mounted {
			a = r.archive
		}
	}
	fs.mu.Unlock()
	if ok {
		closeArchive(a)
		fs.log.Debug("unmounted", sceneshare.Fields{"path": path})
	}
	return nil
}

// AddArchive overlays an already parsed archive, e.g. the pak lump embedded
// in a map. Overlays are searched before mounts, newest first.
func (fs *FileSystem) AddArchive(a Archive) {
	fs.mu.Lock()
	fs.overlays = append(fs.overlays, a)
	fs.mu.Unlock()
}

// AddLooseFiles adds in-memory files, typically dropped by the user. They
// are searched after every archive.
func (fs *FileSystem) AddLooseFiles(files map[string][]byte) {
	fs.mu.Lock()
	for p, b := range files {
		fs.loose[p] = b
	}
	fs.mu.Unlock()
}

// FetchFileData returns the first copy of path found in: overlays, mounted
// archives in mount order, loose files, then LooseRoot through the fetcher.
func (fs *FileSystem) FetchFileData(ctx context.Context, path string) ([]byte, bool, error) {
	fs.mu.Lock()
	search := make([]Archive, 0, len(fs.overlays)+len(fs.order))
	for i := len(fs.overlays) - 1; i >= 0; i-- {
		search = append(search, fs.overlays[i])
	}
	for _, r := range fs.order {
		if r.state == Mounted {
			search = append(search, r.archive)
		}
	}
	b, isLoose := fs.loose[path]
	fs.mu.Unlock()

	for _, a := range search {
		data, ok, err := a.FetchFileData(ctx, path)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return data, true, nil
		}
	}
	if isLoose {
		return b, true, nil
	}
	if fs.looseRoot == "" {
		return nil, false, nil
	}
	data, err := fs.fetcher.FetchData(ctx, fs.looseRoot+"/"+path)
	if err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Requests returns the mount table in mount order.
func (fs *FileSystem) Requests() []MountRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]MountRequest, 0, len(fs.order))
	for _, r := range fs.order {
		out = append(out, MountRequest{Path: r.path, Tier: r.tier, State: r.state, Err: r.err})
	}
	return out
}

// Wait blocks until every started mount, background ones included, is done.
func (fs *FileSystem) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		fs.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Destroy closes every mounted archive. It runs when the session cache
// prunes the FileSystem.
func (fs *FileSystem) Destroy() {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return
	}
	fs.closed = true
	var archives []Archive
	for _, r := range fs.order {
		if r.state == Mounted {
			archives = append(archives, r.archive)
		}
	}
	archives = append(archives, fs.overlays...)
	fs.mounts = map[string]*request{}
	fs.order = nil
	fs.overlays = nil
	fs.mu.Unlock()

	for _, a := range archives {
		closeArchive(a)
	}
}

func closeArchive(a Archive) {
	if c, ok := a.(io.Closer); ok {
		_ = c.Close()
	}
}
