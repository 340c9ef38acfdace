package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk scene database.
type Manifest struct {
	Titles []Title `toml:"title" yaml:"titles"`
	Groups []Group `toml:"group" yaml:"groups"`
}

// Title is the archive set shared by every scene of a game.
type Title struct {
	ID       string   `toml:"id" yaml:"id"`
	Critical []string `toml:"critical" yaml:"critical"`
	Optional []string `toml:"optional" yaml:"optional"`

	// MapPath is a template; "{scene}" is replaced by the scene's local id.
	MapPath   string `toml:"map_path" yaml:"map_path"`
	LooseRoot string `toml:"loose_root" yaml:"loose_root"`
}

type Group struct {
	ID     string `toml:"id" yaml:"id"`
	Name   string `toml:"name" yaml:"name"`
	Title  string `toml:"title" yaml:"title"`
	Hidden bool   `toml:"hidden" yaml:"hidden"`

	Scenes []SceneEntry `toml:"scene" yaml:"scenes"`

	// Aliases maps retired scene ids to current ones, both local to the group.
	Aliases map[string]string `toml:"aliases" yaml:"aliases"`
}

type SceneEntry struct {
	ID     string   `toml:"id" yaml:"id"`
	Name   string   `toml:"name" yaml:"name"`
	Map    string   `toml:"map" yaml:"map"` // overrides the title's MapPath
	Mounts []string `toml:"mounts" yaml:"mounts"`

	// Defaults are built-in save states keyed by slot number.
	Defaults map[string]string `toml:"defaults" yaml:"defaults"`
}

// Format is a manifest encoding.
type Format string

const (
	TOML Format = "toml"
	YAML Format = "yaml"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return TOML, nil
	case ".yaml", ".yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("catalog: unsupported manifest extension %q", filepath.Ext(path))
	}
}

// Load reads a manifest, choosing the decoder by extension.
func Load(path string) (*Manifest, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a manifest. Unknown keys are rejected so a typo in a field
// name does not silently drop a mount.
func Parse(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	switch format {
	case TOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			var sme *toml.StrictMissingError
			if errors.As(err, &sme) {
				return nil, fmt.Errorf("unknown manifest keys:\n%s", sme.String())
			}
			return nil, err
		}
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("catalog: unknown format %q", format)
	}
	return &m, nil
}
