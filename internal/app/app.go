// Package app wires the sceneviewer command: catalog, fetcher, session
// cache, session store and scene controller around a headless viewer.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/catalog"
	"github.com/unkn0wn-root/sceneshare/codec"
	"github.com/unkn0wn-root/sceneshare/fetch"
	gen "github.com/unkn0wn-root/sceneshare/genstore"
	"github.com/unkn0wn-root/sceneshare/internal/headless"
	"github.com/unkn0wn-root/sceneshare/mount"
	"github.com/unkn0wn-root/sceneshare/provider"
	"github.com/unkn0wn-root/sceneshare/provider/bigcache"
	redisprov "github.com/unkn0wn-root/sceneshare/provider/redis"
	"github.com/unkn0wn-root/sceneshare/provider/ristretto"
	"github.com/unkn0wn-root/sceneshare/savemanager"
	"github.com/unkn0wn-root/sceneshare/scene"
)

// App is one viewing session.
type App struct {
	cfg Config
	log sceneshare.Logger
	out io.Writer

	Share   *sceneshare.Share
	Saves   *savemanager.Manager
	Catalog *catalog.Catalog
	Viewer  *headless.Viewer
	Links   *headless.Links
	Ctrl    *scene.Controller
}

// Open builds the session described by cfg. Results are written to out.
func Open(cfg Config, log sceneshare.Logger, hooks sceneshare.Hooks, out io.Writer) (*App, error) {
	if log == nil {
		log = sceneshare.NopLogger{}
	}
	a := &App{cfg: cfg, log: log, out: out, Viewer: headless.NewViewer(), Links: &headless.Links{}}

	m, err := catalog.Load(cfg.Manifest)
	if err != nil {
		return nil, err
	}
	a.Catalog, err = catalog.New(m, catalog.ArchiveFactory(
		mount.ParserFunc(headless.ParseArchive),
		headless.Renderer{Logger: log},
	))
	if err != nil {
		return nil, err
	}

	src, err := openSource(cfg)
	if err != nil {
		return nil, err
	}
	fetcher := fetch.New(src, fetch.Options{MaxInFlight: cfg.MaxInFlight, Logger: log})

	var rdb goredis.UniversalClient
	if cfg.Store == "redis" {
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	}

	var gs gen.GenStore
	if cfg.RedisGenerations {
		gs = gen.NewRedisGenStoreWithTTL(rdb, sessionName(cfg), 24*time.Hour)
	}
	a.Share, err = sceneshare.New(sceneshare.Options{Logger: log, Hooks: hooks, GenStore: gs})
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	p, err := openProvider(cfg, rdb)
	if err != nil {
		_ = a.Share.Close(context.Background())
		return nil, err
	}
	tc, err := timeCodec(cfg.TimeCodec)
	if err != nil {
		_ = p.Close(context.Background())
		_ = a.Share.Close(context.Background())
		return nil, err
	}
	a.Saves, err = savemanager.New(savemanager.Options{Provider: p, TimeCodec: tc, Logger: log})
	if err != nil {
		_ = p.Close(context.Background())
		_ = a.Share.Close(context.Background())
		return nil, err
	}
	a.Catalog.ApplyDefaults(a.Saves)

	a.Ctrl, err = scene.New(scene.Options{
		Share:            a.Share,
		Fetcher:          fetcher,
		Viewer:           a.Viewer,
		Saves:            a.Saves,
		Resolver:         a.Catalog,
		Input:            &headless.Input{},
		Links:            a.Links,
		Errors:           headless.Errors{Logger: log},
		RetentionDelta:   cfg.Retention,
		StrictRetention:  cfg.Strict || cfg.Retention == 0,
		RestoreTimeState: true,
		Logger:           log,
		Hooks:            hooks,
	})
	if err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func openSource(cfg Config) (fetch.Source, error) {
	if strings.HasPrefix(cfg.Source, "http://") || strings.HasPrefix(cfg.Source, "https://") {
		return fetch.NewHTTPSource(cfg.Source, nil, cfg.MaxFetchBytes)
	}
	st, err := os.Stat(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("source %s: not a directory", cfg.Source)
	}
	return fetch.FSSource{FS: os.DirFS(filepath.Clean(cfg.Source))}, nil
}

func openProvider(cfg Config, rdb goredis.UniversalClient) (provider.Provider, error) {
	switch cfg.Store {
	case "ristretto":
		return ristretto.New(ristretto.Config{})
	case "redis":
		return redisprov.New(redisprov.Config{
			Client: rdb,
			Prefix: "sceneviewer:" + sessionName(cfg) + ":",
			// the generation store closes a shared client
			CloseClient: !cfg.RedisGenerations,
		})
	default:
		return bigcache.New(bigcache.Config{})
	}
}

func timeCodec(name string) (codec.Codec[savemanager.TimeState], error) {
	switch strings.ToLower(name) {
	case "cbor":
		return codec.NewCBOR[savemanager.TimeState](true)
	case "msgpack":
		return codec.Msgpack[savemanager.TimeState]{}, nil
	default:
		return codec.JSON[savemanager.TimeState]{}, nil
	}
}

func sessionName(cfg Config) string {
	if cfg.Session != "" {
		return cfg.Session
	}
	return "default"
}

// Run lists the catalog or loads every configured hash in order, printing
// one line per scene.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.List {
		return a.list()
	}
	if a.cfg.Import != "" {
		b, err := os.ReadFile(filepath.Clean(a.cfg.Import))
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		n, err := a.Saves.Import(ctx, b)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		a.log.Info("imported save states", sceneshare.Fields{"count": n})
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = a.Ctrl.Run(runCtx) }()

	var errs []error
	for i, h := range a.cfg.Hashes {
		var (
			tx  *scene.Transaction
			err error
		)
		if i == 0 {
			tx, err = a.Ctrl.LoadInitialFromHash(ctx, h)
		} else {
			tx, err = a.Ctrl.LoadFromHash(ctx, h)
		}
		if err != nil {
			errs = append(errs, err)
			fmt.Fprintf(a.out, "error\t%s\t%v\n", h, err)
			continue
		}
		live, err := tx.Wait(ctx)
		if live != scene.Installed {
			if err == nil {
				err = fmt.Errorf("scene %s: %s", tx.Descriptor().ID(), live)
			}
			errs = append(errs, err)
			fmt.Fprintf(a.out, "%s\t%s\t%v\n", live, tx.Descriptor().ID(), err)
			continue
		}
		a.Ctrl.AutoSave(ctx)
		fmt.Fprintf(a.out, "%s\t#%s\tgen=%d objects=%d\n", live, a.Links.Link(), a.Share.Generation(), a.Share.Len())
	}

	if a.cfg.Export != "" {
		b, err := a.Saves.Export(ctx)
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("export: %w", err))...)
		}
		if err := os.WriteFile(a.cfg.Export, b, 0o600); err != nil {
			return errors.Join(append(errs, fmt.Errorf("export: %w", err))...)
		}
	}
	return errors.Join(errs...)
}

func (a *App) list() error {
	for _, g := range a.Catalog.Groups(false) {
		fmt.Fprintf(a.out, "%s\t%s\n", g.ID, g.Name)
		for _, s := range g.Scenes {
			fmt.Fprintf(a.out, "  %s\t%s\n", s.ID, s.Name)
		}
	}
	return nil
}

// Close tears the session down: the installed scene, the session store and
// the shared objects, in that order.
func (a *App) Close(ctx context.Context) error {
	if a.Ctrl != nil {
		a.Ctrl.Close(ctx)
	}
	var errs []error
	if a.Saves != nil {
		errs = append(errs, a.Saves.Close(ctx))
	}
	if a.Share != nil {
		errs = append(errs, a.Share.Close(ctx))
	}
	return errors.Join(errs...)
}
