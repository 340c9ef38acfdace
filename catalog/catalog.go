// Package catalog is the scene database: groups of scenes addressed as
// "<group>/<scene>", built from a TOML or YAML manifest.
package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/unkn0wn-root/sceneshare/archivescene"
	"github.com/unkn0wn-root/sceneshare/internal/util"
	"github.com/unkn0wn-root/sceneshare/mount"
	"github.com/unkn0wn-root/sceneshare/scene"
)

// Factory builds the descriptor for one manifest scene.
type Factory func(cfg archivescene.Config) (scene.Descriptor, error)

// ArchiveFactory returns a Factory producing archivescene descriptors.
func ArchiveFactory(parser mount.ArchiveParser, renderer archivescene.Renderer) Factory {
	return func(cfg archivescene.Config) (scene.Descriptor, error) {
		return archivescene.New(cfg, parser, renderer)
	}
}

// DefaultsSink receives built-in save states. *savemanager.Manager
// satisfies it.
type DefaultsSink interface {
	SetDefaults(sceneID string, states map[int]string)
}

// SceneInfo is a listed scene.
type SceneInfo struct {
	ID   string // full id
	Name string
}

// GroupInfo is a snapshot of one group.
type GroupInfo struct {
	ID     string
	Name   string
	Hidden bool
	Scenes []SceneInfo
}

type group struct {
	id, name string
	hidden   bool
	scenes   []SceneInfo
	aliases  map[string]string // full alias id -> full scene id
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	groups   []*group
	byGroup  map[string]*group
	descs    map[string]scene.Descriptor
	owner    map[string]*group // scene id -> group
	defaults map[string]map[int]string
}

var ErrDuplicate = errors.New("catalog: duplicate id")

var (
	_ scene.Resolver = (*Catalog)(nil)
	_ scene.Revealer = (*Catalog)(nil)
)

// SceneID joins a group and a local scene id.
func SceneID(groupID, local string) string { return groupID + "/" + local }

// DroppedID names a scene built from a set of dropped files. The id depends
// only on which files were dropped, not their order.
func DroppedID(groupID string, files []string) string {
	return SceneID(groupID, util.SetKey("files", files))
}

// SplitID splits a full scene id at the first "/".
func SplitID(id string) (groupID, local string, ok bool) {
	return strings.Cut(id, "/")
}

// New builds a catalog from m, producing descriptors through factory.
func New(m *Manifest, factory Factory) (*Catalog, error) {
	c := &Catalog{
		byGroup:  map[string]*group{},
		descs:    map[string]scene.Descriptor{},
		owner:    map[string]*group{},
		defaults: map[string]map[int]string{},
	}
	if m == nil {
		return c, nil
	}

	titles := make(map[string]Title, len(m.Titles))
	for _, t := range m.Titles {
		if t.ID == "" {
			return nil, errors.New("catalog: title without id")
		}
		if _, dup := titles[t.ID]; dup {
			return nil, fmt.Errorf("%w: title %q", ErrDuplicate, t.ID)
		}
		titles[t.ID] = t
	}

	for _, mg := range m.Groups {
		if mg.ID == "" || strings.Contains(mg.ID, "/") {
			return nil, fmt.Errorf("catalog: bad group id %q", mg.ID)
		}
		if _, dup := c.byGroup[mg.ID]; dup {
			return nil, fmt.Errorf("%w: group %q", ErrDuplicate, mg.ID)
		}
		t, ok := titles[mg.Title]
		if !ok {
			return nil, fmt.Errorf("catalog: group %q references unknown title %q", mg.ID, mg.Title)
		}
		g := &group{id: mg.ID, name: mg.Name, hidden: mg.Hidden, aliases: map[string]string{}}
		c.groups = append(c.groups, g)
		c.byGroup[g.id] = g

		for _, se := range mg.Scenes {
			id := SceneID(g.id, se.ID)
			if se.ID == "" {
				return nil, fmt.Errorf("catalog: group %q has a scene without id", g.id)
			}
			if _, dup := c.descs[id]; dup {
				return nil, fmt.Errorf("%w: scene %q", ErrDuplicate, id)
			}
			mapPath := se.Map
			if mapPath == "" {
				mapPath = strings.ReplaceAll(t.MapPath, "{scene}", se.ID)
			}
			d, err := factory(archivescene.Config{
				ID:        id,
				Title:     t.ID,
				Critical:  t.Critical,
				Optional:  t.Optional,
				Mounts:    se.Mounts,
				MapPath:   mapPath,
				LooseRoot: t.LooseRoot,
			})
			if err != nil {
				return nil, err
			}
			c.descs[id] = d
			c.owner[id] = g
			name := se.Name
			if name == "" {
				name = se.ID
			}
			g.scenes = append(g.scenes, SceneInfo{ID: id, Name: name})

			if len(se.Defaults) > 0 {
				states := make(map[int]string, len(se.Defaults))
				for k, v := range se.Defaults {
					n, err := strconv.Atoi(k)
					if err != nil || n < 0 {
						return nil, fmt.Errorf("catalog: scene %q: bad default slot %q", id, k)
					}
					states[n] = v
				}
				c.defaults[id] = states
			}
		}

		for alias, target := range mg.Aliases {
			full := SceneID(g.id, target)
			if _, ok := c.descs[full]; !ok {
				return nil, fmt.Errorf("catalog: alias %q of group %q targets unknown scene %q", alias, g.id, target)
			}
			g.aliases[SceneID(g.id, alias)] = full
		}
	}
	return c, nil
}

// Descriptor resolves id, following group aliases.
func (c *Catalog) Descriptor(id string) (scene.Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, ok := c.descs[id]; ok {
		return d, true
	}
	gid, _, ok := SplitID(id)
	if !ok {
		return nil, false
	}
	g, ok := c.byGroup[gid]
	if !ok {
		return nil, false
	}
	target, ok := g.aliases[id]
	if !ok {
		return nil, false
	}
	d, ok := c.descs[target]
	return d, ok
}

// GroupOf returns the group holding sceneID.
func (c *Catalog) GroupOf(sceneID string) (GroupInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.owner[sceneID]
	if !ok {
		return GroupInfo{}, false
	}
	return g.info(), true
}

// Reveal unhides the group holding sceneID.
func (c *Catalog) Reveal(sceneID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.owner[sceneID]; ok {
		g.hidden = false
	}
}

// Groups lists groups in manifest order, hidden ones only when asked.
func (c *Catalog) Groups(includeHidden bool) []GroupInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]GroupInfo, 0, len(c.groups))
	for _, g := range c.groups {
		if g.hidden && !includeHidden {
			continue
		}
		out = append(out, g.info())
	}
	return out
}

// AddScene registers a scene built outside the manifest, e.g. from dropped
// files. The group is created, hidden, when missing.
func (c *Catalog) AddScene(groupID, name string, d scene.Descriptor) error {
	id := d.ID()
	gid, _, ok := SplitID(id)
	if !ok || gid != groupID {
		return fmt.Errorf("catalog: scene id %q is not in group %q", id, groupID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.descs[id]; dup {
		return fmt.Errorf("%w: scene %q", ErrDuplicate, id)
	}
	g, ok := c.byGroup[groupID]
	if !ok {
		g = &group{id: groupID, name: groupID, hidden: true, aliases: map[string]string{}}
		c.groups = append(c.groups, g)
		c.byGroup[groupID] = g
	}
	if name == "" {
		name = id
	}
	g.scenes = append(g.scenes, SceneInfo{ID: id, Name: name})
	c.descs[id] = d
	c.owner[id] = g
	return nil
}

// ApplyDefaults hands every scene's built-in save states to sink.
func (c *Catalog) ApplyDefaults(sink DefaultsSink) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, states := range c.defaults {
		sink.SetDefaults(id, states)
	}
}

func (g *group) info() GroupInfo {
	return GroupInfo{
		ID:     g.id,
		Name:   g.name,
		Hidden: g.hidden,
		Scenes: append([]SceneInfo(nil), g.scenes...),
	}
}
