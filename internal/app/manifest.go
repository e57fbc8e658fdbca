package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/hearth-engine/hearth/internal/capability"
)

// Manifest declares what an app is allowed to do. It is bound to the
// app's namespace at load time; capabilities are never widened
// afterward except by an explicit re-load.
type Manifest struct {
	Name         string            `json:"name" yaml:"name" toml:"name"`
	Version      string            `json:"version" yaml:"version" toml:"version"`
	Author       string            `json:"author,omitempty" yaml:"author" toml:"author"`
	Capabilities []capability.Kind `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
	Quotas       capability.Quotas `json:"quotas" yaml:"quotas" toml:"quotas"`
	MaxRestarts  int               `json:"max_restarts" yaml:"max_restarts" toml:"max_restarts"`
}

// Validate rejects manifests the manager cannot load.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest missing name")
	}
	for _, c := range m.Capabilities {
		switch c {
		case capability.CreateEntity, capability.DestroyEntity,
			capability.UpdateComponent,
			capability.CreateLayer, capability.UpdateLayer, capability.DestroyLayer:
		default:
			return fmt.Errorf("manifest %q declares unknown capability %q", m.Name, c)
		}
	}
	return nil
}

// LoadManifest parses a manifest file, dispatching on extension.
// YAML (.yaml/.yml) and TOML (.toml) are supported.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse yaml manifest %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse toml manifest %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format: %s", path)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
