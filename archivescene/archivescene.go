// Package archivescene is the scene descriptor for archive-backed titles.
//
// Every scene of a title shares one mount.FileSystem, held by the session
// cache under "<title>/FileSystem", so switching between two maps of the same
// title re-downloads nothing. Map bytes are cached the same way under
// "<title>/<map path>".
package archivescene

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/fetch"
	"github.com/unkn0wn-root/sceneshare/internal/util"
	"github.com/unkn0wn-root/sceneshare/mount"
	"github.com/unkn0wn-root/sceneshare/scene"
)

// Renderer turns loaded map data into a scene.
type Renderer interface {
	CreateScene(ctx context.Context, sc *scene.Context, fs *mount.FileSystem, mapData []byte) (scene.Scene, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, sc *scene.Context, fs *mount.FileSystem, mapData []byte) (scene.Scene, error)

func (f RendererFunc) CreateScene(ctx context.Context, sc *scene.Context, fs *mount.FileSystem, mapData []byte) (scene.Scene, error) {
	return f(ctx, sc, fs, mapData)
}

// Config describes one scene of a title.
type Config struct {
	ID    string // scene id, "<group>/<scene>"
	Title string // cache namespace shared by every scene of the title

	// Base archive set of the title.
	Critical []string
	Optional []string

	// Mounts are extra archives this scene needs on top of the base set.
	Mounts []string

	// MapPath is looked up in the FileSystem first, then fetched directly.
	MapPath string

	// LooseRoot is passed to the title's FileSystem; see mount.Options.
	LooseRoot string
}

// ErrNoMap is returned when MapPath is neither in the FileSystem nor
// downloadable.
var ErrNoMap = errors.New("archivescene: map data not found")

// Descriptor implements scene.Descriptor.
type Descriptor struct {
	cfg      Config
	parser   mount.ArchiveParser
	renderer Renderer
}

// New validates cfg. parser and renderer are required.
func New(cfg Config, parser mount.ArchiveParser, renderer Renderer) (*Descriptor, error) {
	switch {
	case cfg.ID == "":
		return nil, errors.New("archivescene: empty scene id")
	case cfg.Title == "":
		return nil, fmt.Errorf("archivescene: scene %q has no title", cfg.ID)
	case cfg.MapPath == "":
		return nil, fmt.Errorf("archivescene: scene %q has no map path", cfg.ID)
	case parser == nil || renderer == nil:
		return nil, errors.New("archivescene: parser and renderer are required")
	}
	return &Descriptor{cfg: cfg, parser: parser, renderer: renderer}, nil
}

func (d *Descriptor) ID() string { return d.cfg.ID }

func (d *Descriptor) Config() Config { return d.cfg }

// FileSystemKey is the cache key of the title's FileSystem.
func (d *Descriptor) FileSystemKey() string { return util.Key(d.cfg.Title, "FileSystem") }

// MapKey is the cache key of the scene's map bytes.
func (d *Descriptor) MapKey() string { return util.Key(d.cfg.Title, d.cfg.MapPath) }

// Build mounts the title, loads the map and hands both to the renderer.
//
// The cached FileSystem fetches through the session fetcher rather than the
// build's scope, so it outlives the scene that created it. Its archives are
// requested on every build: mounted ones are kept, and mounts that failed
// or were aborted by an earlier scene switch start over.
func (d *Descriptor) Build(ctx context.Context, sc *scene.Context) (scene.Scene, error) {
	fs, err := ensure(ctx, sc.Share, d.FileSystemKey(), func(context.Context) (*mount.FileSystem, error) {
		return mount.New(sc.Fetcher.Fetcher(), d.parser, mount.Options{Logger: sc.Logger, LooseRoot: d.cfg.LooseRoot}), nil
	})
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", d.cfg.Title, err)
	}
	if err := fs.MountAll(ctx, d.cfg.Critical, d.cfg.Optional); err != nil {
		return nil, fmt.Errorf("mount %s: %w", d.cfg.Title, err)
	}

	for _, p := range d.cfg.Mounts {
		if err := fs.ToggleMount(ctx, p, true); err != nil {
			return nil, fmt.Errorf("mount %s: %w", p, err)
		}
	}

	mapData, err := ensure(ctx, sc.Share, d.MapKey(), func(ctx context.Context) ([]byte, error) {
		data, ok, err := fs.FetchFileData(ctx, d.cfg.MapPath)
		if err != nil {
			return nil, err
		}
		if ok {
			return data, nil
		}
		data, err = sc.Fetcher.FetchData(ctx, d.cfg.MapPath)
		if err != nil {
			return nil, errors.Join(ErrNoMap, err)
		}
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load map %s: %w", d.cfg.MapPath, err)
	}

	return d.renderer.CreateScene(ctx, sc, fs, mapData)
}

// ensure is sceneshare.Ensure, run once more when the pending build it
// joined was started by a superseded scene and died with its fetch epoch.
func ensure[T any](ctx context.Context, s *sceneshare.Share, key string, build func(context.Context) (T, error)) (T, error) {
	v, err := sceneshare.Ensure(ctx, s, key, build)
	if err != nil && ctx.Err() == nil && errors.Is(err, fetch.ErrAborted) {
		return sceneshare.Ensure(ctx, s, key, build)
	}
	return v, err
}
