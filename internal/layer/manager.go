// Package layer owns render layers and their compositing order.
package layer

import (
	"errors"
	"sort"
	"sync"

	"github.com/hearth-engine/hearth/internal/shared/id"
)

var (
	ErrTooManyLayers    = errors.New("layer capacity exhausted")
	ErrNotFound         = errors.New("layer not found")
	ErrPermissionDenied = errors.New("layer owned by another namespace")
)

// Type classifies what a layer renders.
type Type string

const (
	TypeSprite Type = "sprite"
	TypeTile   Type = "tile"
	TypeText   Type = "text"
	TypeUI     Type = "ui"
	TypeDebug  Type = "debug"
)

// BlendMode selects how a layer composites over those below it.
type BlendMode string

const (
	BlendAlpha    BlendMode = "alpha"
	BlendAdditive BlendMode = "additive"
	BlendMultiply BlendMode = "multiply"
	BlendOpaque   BlendMode = "opaque"
)

// Config is the renderable configuration of a layer.
type Config struct {
	Type      Type      `json:"type"`
	Priority  int       `json:"priority"`
	BlendMode BlendMode `json:"blend_mode"`
	Visible   bool      `json:"visible"`
	Opacity   float64   `json:"opacity"`
}

// DefaultConfig returns a visible alpha-blended sprite layer at priority 0.
func DefaultConfig() Config {
	return Config{
		Type:      TypeSprite,
		BlendMode: BlendAlpha,
		Visible:   true,
		Opacity:   1.0,
	}
}

// Layer is a namespace-owned render target.
type Layer struct {
	ID                id.LayerID     `json:"id"`
	Name              string         `json:"name"`
	Owner             id.NamespaceID `json:"owner"`
	Config            Config         `json:"config"`
	Dirty             bool           `json:"dirty"`
	LastRenderedFrame uint64         `json:"last_rendered_frame"`
}

// Manager owns all layers and produces the visible, ordered layer list.
// The priority sort is cached and only recomputed when the layer set or
// an ordering-relevant field changes.
type Manager struct {
	mu           sync.RWMutex
	layers       map[id.LayerID]*Layer
	capacity     int
	layerIDs     *id.Sequence
	sortDirty    bool
	visibleCache []id.LayerID
}

// NewManager creates a layer manager with a fixed capacity.
func NewManager(capacity int) *Manager {
	return &Manager{
		layers:   make(map[id.LayerID]*Layer),
		capacity: capacity,
		layerIDs: id.NewSequence(),
	}
}

// Create adds a layer owned by ns. New layers start dirty so the first
// frame after creation re-renders them.
func (m *Manager) Create(name string, owner id.NamespaceID, cfg Config) (id.LayerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capacity > 0 && len(m.layers) >= m.capacity {
		return 0, ErrTooManyLayers
	}

	lid := id.LayerID(m.layerIDs.Next())
	m.layers[lid] = &Layer{
		ID:     lid,
		Name:   name,
		Owner:  owner,
		Config: cfg,
		Dirty:  true,
	}
	m.sortDirty = true
	return lid, nil
}

// Destroy removes a layer; ns must own it.
func (m *Manager) Destroy(ns id.NamespaceID, lid id.LayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.layers[lid]
	if !ok {
		return ErrNotFound
	}
	if l.Owner != ns {
		return ErrPermissionDenied
	}
	delete(m.layers, lid)
	m.sortDirty = true
	return nil
}

// DestroyNamespaceLayers removes every layer owned by ns and no others,
// returning how many were removed. Used by gc during namespace teardown.
func (m *Manager) DestroyNamespaceLayers(ns id.NamespaceID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for lid, l := range m.layers {
		if l.Owner == ns {
			delete(m.layers, lid)
			removed++
		}
	}
	if removed > 0 {
		m.sortDirty = true
	}
	return removed
}

// SetVisible toggles a layer's visibility and marks it dirty.
func (m *Manager) SetVisible(ns id.NamespaceID, lid id.LayerID, visible bool) error {
	return m.update(ns, lid, func(l *Layer) {
		if l.Config.Visible != visible {
			l.Config.Visible = visible
			m.sortDirty = true
		}
		l.Dirty = true
	})
}

// SetPriority reorders a layer within the composite and marks it dirty.
func (m *Manager) SetPriority(ns id.NamespaceID, lid id.LayerID, priority int) error {
	return m.update(ns, lid, func(l *Layer) {
		if l.Config.Priority != priority {
			l.Config.Priority = priority
			m.sortDirty = true
		}
		l.Dirty = true
	})
}

// SetConfig replaces a layer's full configuration.
func (m *Manager) SetConfig(ns id.NamespaceID, lid id.LayerID, cfg Config) error {
	return m.update(ns, lid, func(l *Layer) {
		if l.Config.Priority != cfg.Priority || l.Config.Visible != cfg.Visible {
			m.sortDirty = true
		}
		l.Config = cfg
		l.Dirty = true
	})
}

func (m *Manager) update(ns id.NamespaceID, lid id.LayerID, fn func(*Layer)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.layers[lid]
	if !ok {
		return ErrNotFound
	}
	if l.Owner != ns {
		return ErrPermissionDenied
	}
	fn(l)
	return nil
}

// CollectVisible returns visible layer IDs in ascending priority order.
// The sorted slice is cached behind sortDirty; repeated calls on an
// unchanged layer set do no sorting work.
func (m *Manager) CollectVisible() []id.LayerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sortDirty {
		visible := make([]*Layer, 0, len(m.layers))
		for _, l := range m.layers {
			if l.Config.Visible {
				visible = append(visible, l)
			}
		}
		sort.Slice(visible, func(i, j int) bool {
			if visible[i].Config.Priority != visible[j].Config.Priority {
				return visible[i].Config.Priority < visible[j].Config.Priority
			}
			return visible[i].ID < visible[j].ID
		})
		m.visibleCache = make([]id.LayerID, len(visible))
		for i, l := range visible {
			m.visibleCache[i] = l.ID
		}
		m.sortDirty = false
	}

	out := make([]id.LayerID, len(m.visibleCache))
	copy(out, m.visibleCache)
	return out
}

// CollectDirty returns visible layers needing re-render, in priority order.
func (m *Manager) CollectDirty() []id.LayerID {
	visible := m.CollectVisible()

	m.mu.RLock()
	defer m.mu.RUnlock()

	dirty := make([]id.LayerID, 0, len(visible))
	for _, lid := range visible {
		if l, ok := m.layers[lid]; ok && l.Dirty {
			dirty = append(dirty, lid)
		}
	}
	return dirty
}

// MarkRendered clears a layer's dirty flag and stamps the frame it was
// last drawn in.
func (m *Manager) MarkRendered(lid id.LayerID, frame uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.layers[lid]; ok {
		l.Dirty = false
		l.LastRenderedFrame = frame
	}
}

// Get returns a copy of a layer.
func (m *Manager) Get(lid id.LayerID) (Layer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.layers[lid]
	if !ok {
		return Layer{}, false
	}
	return *l, true
}

// Count returns the number of live layers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.layers)
}

// CountNamespace returns the number of layers owned by ns.
func (m *Manager) CountNamespace(ns id.NamespaceID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int
	for _, l := range m.layers {
		if l.Owner == ns {
			n++
		}
	}
	return n
}

// List returns copies of all layers, unordered.
func (m *Manager) List() []Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Layer, 0, len(m.layers))
	for _, l := range m.layers {
		out = append(out, *l)
	}
	return out
}

// IDCursor returns the highest layer ID allocated so far.
func (m *Manager) IDCursor() uint64 {
	return m.layerIDs.Current()
}

// RewindIDs advances the layer allocator past n on rehydration.
func (m *Manager) RewindIDs(n uint64) {
	m.layerIDs.Rewind(n)
}
