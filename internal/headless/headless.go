// Package headless provides a renderer-less viewer for driving scene
// transitions from the command line and from tests.
//
// Archives are JSON objects mapping file paths to contents. Maps are JSON
// documents:
//
//	{"name": "Slipgate Complex", "spawn": [480, -352, 88], "requires": ["progs/player.mdl"]}
//
// Files listed in "requires" are resolved through the title's FileSystem,
// so a map that references a missing asset fails to build.
package headless

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/sceneshare"
	"github.com/unkn0wn-root/sceneshare/codec"
	"github.com/unkn0wn-root/sceneshare/mount"
	"github.com/unkn0wn-root/sceneshare/savestate"
	"github.com/unkn0wn-root/sceneshare/scene"
)

// Viewer implements scene.Viewer by recording what a renderer would show.
type Viewer struct {
	mu        sync.Mutex
	scene     scene.Scene
	camera    savestate.Camera
	cc        scene.CameraController
	sceneTime float64
	playing   bool
}

var _ scene.Viewer = (*Viewer)(nil)

func NewViewer() *Viewer {
	return &Viewer{camera: savestate.Camera{WorldMatrix: savestate.Identity()}, playing: true}
}

func (v *Viewer) SetScene(s scene.Scene) {
	v.mu.Lock()
	v.scene = s
	v.mu.Unlock()
}

func (v *Viewer) Scene() scene.Scene {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scene
}

func (v *Viewer) Camera() savestate.Camera {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.camera
}

func (v *Viewer) SetCamera(c savestate.Camera) {
	v.mu.Lock()
	v.camera = c
	v.mu.Unlock()
}

func (v *Viewer) CameraController() scene.CameraController {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cc
}

func (v *Viewer) SetCameraController(cc scene.CameraController) {
	v.mu.Lock()
	v.cc = cc
	v.mu.Unlock()
}

func (v *Viewer) SceneTime() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sceneTime
}

func (v *Viewer) SetSceneTime(t float64) {
	v.mu.Lock()
	v.sceneTime = t
	v.mu.Unlock()
}

func (v *Viewer) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

func (v *Viewer) SetPlaying(p bool) {
	v.mu.Lock()
	v.playing = p
	v.mu.Unlock()
}

// Archive is a parsed JSON archive.
type Archive struct {
	path  string
	files map[string]string
}

func (a *Archive) FetchFileData(_ context.Context, p string) ([]byte, bool, error) {
	s, ok := a.files[p]
	if !ok {
		return nil, false, nil
	}
	return []byte(s), true, nil
}

func (a *Archive) Len() int { return len(a.files) }

// ParseArchive implements mount.ParserFunc.
func ParseArchive(path string, data []byte) (mount.Archive, error) {
	files, err := codec.JSON[map[string]string]{}.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}
	return &Archive{path: path, files: files}, nil
}

// Map is the decoded map document.
type Map struct {
	Name     string     `json:"name"`
	Spawn    [3]float32 `json:"spawn"`
	Requires []string   `json:"requires"`
}

// Scene is a loaded map. Its save state is one byte of toggled layers.
type Scene struct {
	m      Map
	layers atomic.Uint32
	notify atomic.Pointer[func()]
	done   atomic.Bool
}

var (
	_ scene.StateSerializer            = (*Scene)(nil)
	_ scene.DefaultWorldMatrixProvider = (*Scene)(nil)
	_ scene.StateChangeNotifier        = (*Scene)(nil)
)

func (s *Scene) Map() Map      { return s.m }
func (s *Scene) Layers() uint8 { return uint8(s.layers.Load()) }

func (s *Scene) Destroyed() bool { return s.done.Load() }
func (s *Scene) Destroy()        { s.done.Store(true) }

// ToggleLayer flips one of the eight layers and reports the change.
func (s *Scene) ToggleLayer(i int) {
	for {
		old := s.layers.Load()
		if s.layers.CompareAndSwap(old, old^(1<<uint(i&7))) {
			break
		}
	}
	if fn := s.notify.Load(); fn != nil {
		(*fn)()
	}
}

func (s *Scene) SetOnStateChanged(fn func()) { s.notify.Store(&fn) }

func (s *Scene) SerializeSaveState(buf []byte, off int) int {
	if off >= len(buf) {
		return off
	}
	buf[off] = s.Layers()
	return off + 1
}

func (s *Scene) DeserializeSaveState(buf []byte, off, length int) int {
	if off >= length {
		return off
	}
	s.layers.Store(uint32(buf[off]))
	return off + 1
}

func (s *Scene) DefaultWorldMatrix() savestate.Mat4 {
	m := savestate.Identity()
	m[12], m[13], m[14] = s.m.Spawn[0], s.m.Spawn[1], s.m.Spawn[2]
	return m
}

// Renderer builds Scenes. It implements archivescene.Renderer.
type Renderer struct {
	Logger sceneshare.Logger
}

func (r Renderer) CreateScene(ctx context.Context, sc *scene.Context, fs *mount.FileSystem, mapData []byte) (scene.Scene, error) {
	m, err := codec.JSON[Map]{}.Decode(mapData)
	if err != nil {
		return nil, fmt.Errorf("decode map: %w", err)
	}
	for _, p := range m.Requires {
		_, ok, err := fs.FetchFileData(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("map %q requires missing file %q", m.Name, p)
		}
	}
	s := &Scene{m: m}
	if r.Logger != nil {
		r.Logger.Debug("map loaded", sceneshare.Fields{"map": m.Name, "requires": len(m.Requires)})
	}
	return s, nil
}

// Links records the share link.
type Links struct {
	mu       sync.Mutex
	link     string
	location string
	updates  int
}

func (l *Links) SetShareLink(hash string) {
	l.mu.Lock()
	l.link = hash
	l.mu.Unlock()
}

func (l *Links) ReplaceLocation(hash string) {
	l.mu.Lock()
	l.location = hash
	l.updates++
	l.mu.Unlock()
}

func (l *Links) Link() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.link
}

func (l *Links) Location() (hash string, updates int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.location, l.updates
}

// Errors logs build failures.
type Errors struct {
	Logger sceneshare.Logger
}

func (e Errors) ReportError(sceneID string, err error) {
	if e.Logger == nil {
		return
	}
	e.Logger.Error("scene failed to load", sceneshare.Fields{"scene": sceneID, "err": err})
}

// Input counts resets.
type Input struct{ resets atomic.Int32 }

func (i *Input) Reset()      { i.resets.Add(1) }
func (i *Input) Resets() int { return int(i.resets.Load()) }
