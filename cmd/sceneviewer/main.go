// Command sceneviewer loads scenes from a catalog without a renderer and
// prints their share links.
//
//	sceneviewer -manifest scenes.toml -source ./data 'q1/e1m1' 'q1/e1m2;ZNCA8...'
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/internal/app"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := app.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	logging, err := app.NewLogging(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	a, err := app.Open(cfg, logging.Logger, logging.Hooks, os.Stdout)
	if err != nil {
		return err
	}
	runErr := a.Run(ctx)
	if err := a.Close(context.Background()); err != nil {
		logging.Logger.Warn("close failed", sceneshare.Fields{"err": err})
	}
	return runErr
}
