// Package sloghooks logs Hooks events through log/slog.
package sloghooks

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/sceneshare"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	BuiltEvery  uint64
	PrunedEvery uint64
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	builtCtr  atomic.Uint64
	prunedCtr atomic.Uint64
}

var _ sceneshare.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) ObjectBuilt(key string, gen uint64, took time.Duration) {
	if h.l == nil || !sample(h.opts.BuiltEvery, &h.builtCtr) {
		return
	}
	h.l.Debug("sceneshare.object_built",
		"key", key,
		"gen", gen,
		"took", took)
}

func (h *Hooks) BuildFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("sceneshare.build_failed",
		"key", key,
		"err", err)
}

func (h *Hooks) ObjectPruned(key string, gen, current uint64) {
	if h.l == nil || !sample(h.opts.PrunedEvery, &h.prunedCtr) {
		return
	}
	h.l.Debug("sceneshare.object_pruned",
		"key", key,
		"gen", gen,
		"current", current)
}

func (h *Hooks) MountFailed(path, tier string, err error) {
	if h.l == nil {
		return
	}
	lvl := slog.LevelWarn
	if tier == "critical" {
		lvl = slog.LevelError
	}
	h.l.Log(context.Background(), lvl, "sceneshare.mount_failed",
		"path", path,
		"tier", tier,
		"err", err)
}

func (h *Hooks) SceneSuperseded(sceneID string) {
	if h.l == nil {
		return
	}
	h.l.Info("sceneshare.scene_superseded", "scene", sceneID)
}

func (h *Hooks) SaveStateRejected(reason string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("sceneshare.save_state_rejected",
		"reason", reason,
		"err", err)
}
