package scene

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/savemanager"
	"github.com/unkn0wn-root/sceneshare/savestate"
)

// LinkSink receives the share link of the installed scene.
type LinkSink interface {
	// SetShareLink is called on every auto-save.
	SetShareLink(hash string)
	// ReplaceLocation updates the address bar. Calls are throttled unless
	// the save was forced.
	ReplaceLocation(hash string)
}

// CaptureState serializes the viewer camera and the installed scene.
func (c *Controller) CaptureState() (string, error) {
	c.mu.Lock()
	s := c.scene
	c.mu.Unlock()
	if s == nil {
		return "", ErrNoScene
	}
	ser, _ := s.(StateSerializer)
	return savestate.Capture(savestate.FormShareData, c.viewer.Camera(), ser)
}

// autoSave writes the current state to slot 0 and refreshes the share link.
// The location update is throttled to one per LinkInterval unless force.
func (c *Controller) autoSave(ctx context.Context, force bool) {
	c.mu.Lock()
	installed := c.current != nil
	c.mu.Unlock()
	if !installed {
		return
	}
	id := c.CurrentID()
	text, err := c.CaptureState()
	if err != nil {
		c.log.Warn("capture save state failed", sceneshare.Fields{"scene": id, "err": err})
		return
	}

	if c.saves != nil {
		if err := c.saves.SaveTemporaryState(ctx, savemanager.SlotKey(id, 0), text); err != nil {
			c.log.Warn("auto-save failed", sceneshare.Fields{"scene": id, "err": err})
		}
	}
	c.saveTimeState(ctx)

	if c.links == nil {
		return
	}
	link := FormatHash(id, text)
	c.links.SetShareLink(link)

	now := c.now()
	c.mu.Lock()
	update := force || now.Sub(c.lastLink) >= c.linkEvery
	if update {
		c.lastLink = now
	}
	c.mu.Unlock()
	if update {
		c.links.ReplaceLocation(link)
	}
}

// AutoSave saves the current state to slot 0 and refreshes the share link
// if LinkInterval passed since the last update.
func (c *Controller) AutoSave(ctx context.Context) { c.autoSave(ctx, false) }

func (c *Controller) saveTimeState(ctx context.Context) {
	if !c.timeState || c.saves == nil {
		return
	}
	c.mu.Lock()
	installed := c.current != nil
	ts := savemanager.TimeState{Playing: c.playing, TimeScale: c.timeScale}
	c.mu.Unlock()
	if !installed {
		return
	}
	ts.SceneTime = c.viewer.SceneTime()
	id := c.CurrentID()
	if err := c.saves.SaveTimeState(ctx, id, ts); err != nil {
		c.log.Warn("save time state failed", sceneshare.Fields{"scene": id, "err": err})
	}
}

// Run auto-saves every AutoSaveInterval until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	t := time.NewTicker(c.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.autoSave(ctx, false)
		}
	}
}

type SlotAction int

const (
	SlotLoad SlotAction = iota
	SlotLoadDefault
	SlotSave
	SlotDelete
)

func (a SlotAction) String() string {
	switch a {
	case SlotLoad:
		return "load"
	case SlotLoadDefault:
		return "load-default"
	case SlotSave:
		return "save"
	case SlotDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Slot runs a save slot action on the installed scene. Slots are 1..9;
// slot 0 belongs to auto-save. Loading an empty slot is not an error and
// returns applied=false.
func (c *Controller) Slot(ctx context.Context, action SlotAction, slot int) (applied bool, err error) {
	if slot < 1 || slot >= savemanager.NumSlots {
		return false, ErrInvalidSlot
	}
	if c.saves == nil {
		return false, ErrNoSaves
	}
	c.tmu.Lock()
	defer c.tmu.Unlock()

	c.mu.Lock()
	installed := c.current != nil
	c.mu.Unlock()
	if !installed {
		return false, ErrNoScene
	}
	key := savemanager.SlotKey(c.CurrentID(), slot)

	switch action {
	case SlotSave:
		text, err := c.CaptureState()
		if err != nil {
			return false, err
		}
		return true, c.saves.SaveState(ctx, key, text)
	case SlotDelete:
		return true, c.saves.DeleteState(ctx, key)
	case SlotLoad:
		text, ok, err := c.saves.LoadState(ctx, key)
		if err != nil || !ok {
			return false, err
		}
		return c.loadSaveState(ctx, text), nil
	case SlotLoadDefault:
		text, ok, err := c.saves.LoadStateFromLocation(ctx, key, savemanager.Defaults)
		if err != nil || !ok {
			return false, err
		}
		return c.loadSaveState(ctx, text), nil
	default:
		return false, fmt.Errorf("scene: unknown slot action %d", action)
	}
}

// Reload rebuilds the installed scene and restores its current state.
func (c *Controller) Reload(ctx context.Context) (*Transaction, error) {
	c.mu.Lock()
	desc := c.requested
	c.mu.Unlock()
	if desc == nil {
		return nil, ErrNoScene
	}
	text, err := c.CaptureState()
	if err != nil && !errors.Is(err, ErrNoScene) {
		return nil, err
	}
	return c.Request(ctx, desc, text, true), nil
}

// LoadFromHash loads the scene named by a location hash.
func (c *Controller) LoadFromHash(ctx context.Context, hash string) (*Transaction, error) {
	id, state := ParseHash(hash)
	desc, err := c.resolve(id)
	if err != nil {
		return nil, err
	}
	return c.Request(ctx, desc, state, false), nil
}

// LoadInitialFromHash is LoadFromHash for session start: the scene's slot 0
// auto-save, if any, wins over the state carried by the hash.
func (c *Controller) LoadInitialFromHash(ctx context.Context, hash string) (*Transaction, error) {
	id, state := ParseHash(hash)
	desc, err := c.resolve(id)
	if err != nil {
		return nil, err
	}
	if c.saves != nil {
		if s, ok, err := c.saves.LoadState(ctx, savemanager.SlotKey(id, 0)); err == nil && ok {
			state = s
		}
	}
	return c.Request(ctx, desc, state, false), nil
}

func (c *Controller) resolve(id string) (Descriptor, error) {
	if c.resolver == nil || id == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScene, id)
	}
	desc, ok := c.resolver.Descriptor(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScene, id)
	}
	return desc, nil
}
