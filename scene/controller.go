package scene

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/fetch"
	"github.com/unkn0wn-root/sceneshare/savemanager"
	"github.com/unkn0wn-root/sceneshare/savestate"
)

const (
	defaultRetention        = 1
	defaultAutoSaveInterval = time.Second
	defaultLinkInterval     = 2 * time.Second

	tracerName = "github.com/unkn0wn-root/sceneshare/scene"
)

type Options struct {
	Share   *sceneshare.Share // required
	Fetcher *fetch.Fetcher    // required
	Viewer  Viewer            // required

	Saves       *savemanager.Manager // nil disables slots and auto-save
	Resolver    Resolver             // needed for hash navigation
	Input       InputManager
	RenderInput any
	Links       LinkSink
	Errors      ErrorReporter

	// RetentionDelta is the number of previous generations whose shared
	// objects survive a scene switch. 0 => 1. StrictRetention forces 0,
	// freeing everything the previous scene used.
	RetentionDelta  int
	StrictRetention bool

	AutoSaveInterval time.Duration // Run tick; 0 => 1s
	LinkInterval     time.Duration // min gap between location updates; 0 => 2s

	// RestoreTimeState applies the saved playback state of a scene when it
	// is loaded again in the same session.
	RestoreTimeState bool

	DefaultCameraController func() CameraController

	Logger sceneshare.Logger
	Hooks  sceneshare.Hooks
	Tracer trace.Tracer
	Now    func() time.Time
}

type State int

const (
	Idle State = iota
	LoadingScene
	SceneInstalled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoadingScene:
		return "loading"
	case SceneInstalled:
		return "installed"
	default:
		return "unknown"
	}
}

// Controller is the scene transition state machine. Safe for concurrent use.
type Controller struct {
	share     *sceneshare.Share
	fetcher   *fetch.Fetcher
	viewer    Viewer
	saves     *savemanager.Manager
	resolver  Resolver
	input     InputManager
	render    any
	links     LinkSink
	errs      ErrorReporter
	delta     int
	tick      time.Duration
	linkEvery time.Duration
	timeState bool
	defCam    func() CameraController
	log       sceneshare.Logger
	hooks     sceneshare.Hooks
	tracer    trace.Tracer
	now       func() time.Time

	// tmu serializes transitions: teardown+start in Request, and install.
	tmu sync.Mutex

	mu        sync.Mutex
	requested Descriptor   // last requested descriptor; nil when Idle
	loading   *Transaction // the transaction whose result will be installed
	current   *Transaction // installed transaction
	scene     Scene        // installed scene
	pool      *Pool
	playing   bool
	timeScale float64
	lastLink  time.Time
}

func New(opts Options) (*Controller, error) {
	if opts.Share == nil || opts.Fetcher == nil || opts.Viewer == nil {
		return nil, errors.New("scene: Share, Fetcher and Viewer are required")
	}
	c := &Controller{
		share:     opts.Share,
		fetcher:   opts.Fetcher,
		viewer:    opts.Viewer,
		saves:     opts.Saves,
		resolver:  opts.Resolver,
		input:     opts.Input,
		render:    opts.RenderInput,
		links:     opts.Links,
		errs:      opts.Errors,
		delta:     opts.RetentionDelta,
		tick:      opts.AutoSaveInterval,
		linkEvery: opts.LinkInterval,
		timeState: opts.RestoreTimeState,
		defCam:    opts.DefaultCameraController,
		log:       opts.Logger,
		hooks:     opts.Hooks,
		tracer:    opts.Tracer,
		now:       opts.Now,
		pool:      NewPool(),
		timeScale: 1,
	}
	if c.delta <= 0 {
		c.delta = defaultRetention
	}
	if opts.StrictRetention {
		c.delta = 0
	}
	if c.tick <= 0 {
		c.tick = defaultAutoSaveInterval
	}
	if c.linkEvery <= 0 {
		c.linkEvery = defaultLinkInterval
	}
	if c.defCam == nil {
		c.defCam = func() CameraController { return FPSCameraController{} }
	}
	if c.log == nil {
		c.log = sceneshare.NopLogger{}
	}
	if c.hooks == nil {
		c.hooks = sceneshare.NopHooks{}
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Request loads desc and applies state once it is installed.
//
// If desc is the scene already installed (or already loading) and force is
// false, nothing is torn down: state is applied to the installed scene, or
// handed to the loading transaction. Otherwise the previous scene is torn
// down, the session generation is bumped, old shared objects are pruned and
// desc builds in the background. The returned transaction reports the
// outcome.
func (c *Controller) Request(ctx context.Context, desc Descriptor, state string, force bool) *Transaction {
	c.tmu.Lock()
	defer c.tmu.Unlock()

	c.mu.Lock()
	same := c.requested != nil && c.requested.ID() == desc.ID()
	cur, loading := c.current, c.loading
	c.mu.Unlock()

	if same && !force {
		if loading != nil {
			loading.setPending(state)
			return loading
		}
		if cur != nil {
			c.loadSaveState(ctx, state)
			return cur
		}
	}

	c.teardown(ctx, loading)

	if r, ok := c.resolver.(Revealer); ok {
		r.Reveal(desc.ID())
	}

	// bump then prune: objects older than the retention window are freed
	// before any builder of the new scene runs
	if _, err := c.share.LoadNewScene(ctx); err != nil {
		c.log.Error("generation bump failed", sceneshare.Fields{"scene": desc.ID(), "err": err})
	}
	if n, err := c.share.PruneOldObjects(c.delta); err != nil {
		c.log.Error("prune failed", sceneshare.Fields{"err": err})
	} else if n > 0 {
		c.log.Debug("pruned shared objects", sceneshare.Fields{"count": n, "delta": c.delta})
	}

	t := newTransaction(desc, state)
	pool := NewPool()
	c.fetcher.Reset()
	if c.input != nil {
		c.input.Reset()
	}

	var ts *savemanager.TimeState
	if c.timeState && c.saves != nil {
		if v, ok, err := c.saves.LoadTimeState(ctx, desc.ID()); err != nil {
			c.log.Warn("load time state failed", sceneshare.Fields{"scene": desc.ID(), "err": err})
		} else if ok {
			ts = &v
		}
	}
	sc := &Context{
		Fetcher:     c.fetcher.Bind(),
		Share:       c.share,
		Pool:        pool,
		Input:       c.input,
		RenderInput: c.render,
		Logger:      c.log,
	}
	if ts != nil {
		sc.InitialSceneTime = ts.SceneTime
	}

	c.mu.Lock()
	c.requested = desc
	c.loading = t
	c.pool = pool
	c.mu.Unlock()

	c.log.Info("loading scene", sceneshare.Fields{"scene": desc.ID(), "tx": t.id.String()})
	go c.build(context.WithoutCancel(ctx), t, sc, ts)
	return t
}

// teardown releases the previous scene. Caller holds tmu.
func (c *Controller) teardown(ctx context.Context, loading *Transaction) {
	c.fetcher.Abort()

	c.mu.Lock()
	old, pool := c.scene, c.pool
	if loading != nil {
		// its result is discarded when the build returns
		loading.setLiveness(Superseded)
	}
	c.scene, c.current, c.loading = nil, nil, nil
	c.mu.Unlock()

	if old != nil && !pool.Contains(old) {
		pool.Push(old)
	}
	c.viewer.SetScene(nil)
	if n := pool.Drain(); n > 0 {
		c.log.Debug("destroyable pool drained", sceneshare.Fields{"count": n})
	}
}

func (c *Controller) build(ctx context.Context, t *Transaction, sc *Context, ts *savemanager.TimeState) {
	defer close(t.done)

	// a superseded build stops waiting as soon as its epoch is aborted
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sc.Fetcher.Context(), cancel)
	defer stop()

	id := t.desc.ID()
	ctx, span := c.tracer.Start(ctx, "scene.load", trace.WithAttributes(
		attribute.String("scene.id", id),
		attribute.String("scene.tx", t.id.String()),
	))
	defer span.End()

	start := c.now()
	s, err := t.desc.Build(ctx, sc)

	c.tmu.Lock()
	defer c.tmu.Unlock()

	c.mu.Lock()
	live := c.loading == t
	if live {
		c.loading = nil
		if err != nil {
			c.requested = nil
		} else {
			c.current, c.scene = t, s
		}
	}
	c.mu.Unlock()

	if !live {
		t.setLiveness(Superseded)
		span.SetAttributes(attribute.Bool("scene.superseded", true))
		if s != nil {
			s.Destroy()
		}
		c.log.Debug("discarding superseded scene", sceneshare.Fields{"scene": id, "tx": t.id.String()})
		c.hooks.SceneSuperseded(id)
		return
	}
	if err != nil {
		serr := &SceneError{SceneID: id, Err: err}
		t.fail(serr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		c.log.Error("scene build failed", sceneshare.Fields{"scene": id, "err": err})
		if c.errs != nil {
			c.errs.ReportError(id, serr)
		}
		return
	}

	t.setLiveness(Installed)
	c.viewer.SetScene(s)
	c.onSceneChanged(ctx, t, s, ts)
	c.log.Info("scene installed", sceneshare.Fields{"scene": id, "took": c.now().Sub(start)})
}

// onSceneChanged wires the installed scene and restores its state. Caller
// holds tmu.
func (c *Controller) onSceneChanged(ctx context.Context, t *Transaction, s Scene, ts *savemanager.TimeState) {
	if n, ok := s.(StateChangeNotifier); ok {
		n.SetOnStateChanged(func() { c.autoSave(context.WithoutCancel(ctx), true) })
	}

	c.setPlaying(true)

	if f, ok := s.(CameraControllerFactory); ok {
		if cc := f.CreateCameraController(); cc != nil {
			c.viewer.SetCameraController(cc)
		}
	}
	if c.viewer.CameraController() == nil {
		c.viewer.SetCameraController(c.defCam())
	}

	if ts != nil {
		c.setPlaying(ts.Playing)
		c.mu.Lock()
		c.timeScale = ts.TimeScale
		c.mu.Unlock()
		c.viewer.SetSceneTime(ts.SceneTime)
	}

	if !c.restore(ctx, t.desc.ID(), t.pendingState()) {
		cam := savestate.Camera{WorldMatrix: savestate.Identity()}
		if d, ok := s.(DefaultWorldMatrixProvider); ok {
			cam.WorldMatrix = d.DefaultWorldMatrix()
		}
		c.viewer.SetCamera(cam)
	}
	c.autoSave(ctx, true)
}

// restore tries the explicit state, then slot 0, then slot 1.
func (c *Controller) restore(ctx context.Context, sceneID, explicit string) bool {
	if c.loadSaveState(ctx, explicit) {
		return true
	}
	if c.saves == nil {
		return false
	}
	for _, slot := range []int{0, 1} {
		s, ok, err := c.saves.LoadState(ctx, savemanager.SlotKey(sceneID, slot))
		if err != nil {
			c.log.Warn("load save slot failed", sceneshare.Fields{"scene": sceneID, "slot": slot, "err": err})
			continue
		}
		if ok && c.loadSaveState(ctx, s) {
			return true
		}
	}
	return false
}

// loadSaveState applies text to the viewer camera and the installed scene.
// It reports whether a state was applied.
func (c *Controller) loadSaveState(ctx context.Context, text string) bool {
	if text == "" {
		return false
	}
	st, ok, err := savestate.Deserialize(text)
	if err != nil {
		c.log.Warn("save state rejected", sceneshare.Fields{"err": err})
		c.hooks.SaveStateRejected("decode", err)
		return false
	}
	if !ok {
		c.log.Debug("unrecognized save state", sceneshare.Fields{"len": len(text)})
		c.hooks.SaveStateRejected("unrecognized", nil)
		return false
	}

	c.mu.Lock()
	s := c.scene
	c.mu.Unlock()

	c.viewer.SetCamera(st.Camera)
	if st.HasSceneTime {
		c.viewer.SetSceneTime(float64(st.SceneTime))
	}
	if ser, ok := s.(StateSerializer); ok {
		savestate.Restore(st, ser)
	}
	c.autoSave(ctx, true)
	return true
}

func (c *Controller) setPlaying(v bool) {
	c.mu.Lock()
	changed := c.playing != v
	c.playing = v
	c.mu.Unlock()
	if changed {
		c.viewer.SetPlaying(v)
	}
}

// SetPlaying toggles playback and records it in the scene's time state.
func (c *Controller) SetPlaying(ctx context.Context, v bool) {
	c.setPlaying(v)
	c.saveTimeState(ctx)
}

func (c *Controller) SetTimeScale(ctx context.Context, scale float64) {
	c.mu.Lock()
	c.timeScale = scale
	c.mu.Unlock()
	c.saveTimeState(ctx)
}

// State reports where the state machine is.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.loading != nil:
		return LoadingScene
	case c.current != nil:
		return SceneInstalled
	default:
		return Idle
	}
}

// Current returns the installed transaction and scene, or nils.
func (c *Controller) Current() (*Transaction, Scene) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.scene
}

// CurrentID is the id of the last requested scene, "" when Idle.
func (c *Controller) CurrentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requested == nil {
		return ""
	}
	return c.requested.ID()
}

// Pool is the destroyable pool of the current transaction.
func (c *Controller) Pool() *Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool
}

// Close tears down the installed scene. Transactions still loading are
// superseded.
func (c *Controller) Close(ctx context.Context) {
	c.tmu.Lock()
	defer c.tmu.Unlock()
	c.mu.Lock()
	loading := c.loading
	c.requested = nil
	c.mu.Unlock()
	c.teardown(ctx, loading)
}
