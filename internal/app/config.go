package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds sceneviewer configuration. Environment variables provide the
// defaults; flags override them.
type Config struct {
	Manifest string `env:"SCENEVIEWER_MANIFEST" envDefault:"scenes.toml"`
	// Source is a data directory or an http(s) base URL.
	Source        string `env:"SCENEVIEWER_SOURCE" envDefault:"data"`
	MaxInFlight   int64  `env:"SCENEVIEWER_MAX_IN_FLIGHT" envDefault:"8"`
	MaxFetchBytes int64  `env:"SCENEVIEWER_MAX_FETCH_BYTES" envDefault:"268435456"`

	// Store selects the session store: bigcache, ristretto or redis.
	Store     string `env:"SCENEVIEWER_STORE" envDefault:"bigcache"`
	RedisAddr string `env:"SCENEVIEWER_REDIS_ADDR" envDefault:"localhost:6379"`
	// RedisGenerations keeps the session generation counter in Redis.
	RedisGenerations bool `env:"SCENEVIEWER_REDIS_GENERATIONS"`
	// Session namespaces every Redis key.
	Session string `env:"SCENEVIEWER_SESSION"`

	// TimeCodec encodes playback state: json, cbor or msgpack.
	TimeCodec string `env:"SCENEVIEWER_TIME_CODEC" envDefault:"json"`

	Retention int           `env:"SCENEVIEWER_RETENTION" envDefault:"1"`
	Strict    bool          `env:"SCENEVIEWER_STRICT_RETENTION"`
	Timeout   time.Duration `env:"SCENEVIEWER_TIMEOUT" envDefault:"1m"`
	LogLevel  string        `env:"SCENEVIEWER_LOG_LEVEL" envDefault:"info"`
	// LogFormat picks the logging backend: zap, logrus or slog.
	LogFormat string `env:"SCENEVIEWER_LOG_FORMAT" envDefault:"zap"`

	List   bool
	Export string // write the session bundle to this file
	Import string // read a session bundle before loading

	// Hashes are the scenes to load in order, "<sceneId>[;<saveState>]".
	Hashes []string
}

// ParseConfig reads the environment, then flags from args.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Manifest, "manifest", cfg.Manifest, "scene manifest (.toml, .yaml)")
	fs.StringVar(&cfg.Source, "source", cfg.Source, "data directory or http(s) base URL")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "session store: bigcache, ristretto or redis")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "redis address for -store=redis")
	fs.StringVar(&cfg.TimeCodec, "time-codec", cfg.TimeCodec, "playback state codec: json, cbor or msgpack")
	fs.IntVar(&cfg.Retention, "retention", cfg.Retention, "generations of shared objects kept across scene switches; 0 frees everything on every switch")
	fs.BoolVar(&cfg.Strict, "strict", cfg.Strict, "free everything the previous scene used on every switch")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "zap, logrus or slog")
	fs.BoolVar(&cfg.List, "list", false, "list visible scene groups and exit")
	fs.StringVar(&cfg.Export, "export", "", "write the session save bundle to this file")
	fs.StringVar(&cfg.Import, "import", "", "read a session save bundle before loading")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Hashes = fs.Args()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case "bigcache", "ristretto", "redis":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch strings.ToLower(c.TimeCodec) {
	case "json", "cbor", "msgpack":
	default:
		return fmt.Errorf("unknown time codec %q", c.TimeCodec)
	}
	switch c.LogFormat {
	case "zap", "logrus", "slog":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.Retention < 0 {
		return errors.New("retention must be >= 0")
	}
	if c.RedisGenerations && c.Store != "redis" {
		return errors.New("redis generations need -store=redis")
	}
	if !c.List && len(c.Hashes) == 0 {
		return errors.New("no scene to load")
	}
	return nil
}
