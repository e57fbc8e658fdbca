package capability

import (
	"sync"

	"github.com/hearth-engine/hearth/internal/shared/id"
)

// Kind classifies a permitted operation class.
type Kind string

const (
	CreateEntity    Kind = "create_entity"
	DestroyEntity   Kind = "destroy_entity"
	UpdateComponent Kind = "update_component"
	CreateLayer     Kind = "create_layer"
	UpdateLayer     Kind = "update_layer"
	DestroyLayer    Kind = "destroy_layer"
)

// Capability is a granted permission for one operation class.
type Capability struct {
	ID   uint64 `json:"id"`
	Kind Kind   `json:"kind"`
}

// Quotas bounds a namespace's resource consumption. Cumulative caps
// (MaxEntities, MaxLayers) track live resources; per-frame pools
// (EntitiesPerFrame, PatchesPerFrame) are restored by ResetFrameQuotas.
// A zero field means unlimited.
type Quotas struct {
	MaxEntities      int `json:"max_entities" yaml:"max_entities" toml:"max_entities"`
	MaxLayers        int `json:"max_layers" yaml:"max_layers" toml:"max_layers"`
	EntitiesPerFrame int `json:"entities_per_frame" yaml:"entities_per_frame" toml:"entities_per_frame"`
	PatchesPerFrame  int `json:"patches_per_frame" yaml:"patches_per_frame" toml:"patches_per_frame"`
}

// Decision is the outcome of an authorization check.
type Decision int

const (
	Allowed Decision = iota
	DeniedCapability
	DeniedQuota
)

// Usage tracks a namespace's current consumption against its quotas.
type Usage struct {
	Entities      int `json:"entities"`
	Layers        int `json:"layers"`
	FrameEntities int `json:"frame_entities"`
	FramePatches  int `json:"frame_patches"`
}

type grant struct {
	caps   map[Kind]Capability
	quotas Quotas
	used   Usage
}

// Checker authorizes namespace operations against declared capability
// sets and decrements per-frame quotas alongside successful checks.
type Checker struct {
	mu     sync.RWMutex
	grants map[id.NamespaceID]*grant
	capIDs *id.Sequence
}

// NewChecker creates an empty checker backed by its own ID allocator.
func NewChecker() *Checker {
	return &Checker{
		grants: make(map[id.NamespaceID]*grant),
		capIDs: id.NewSequence(),
	}
}

// Bind registers a namespace with its quotas. Idempotent: rebinding an
// existing namespace replaces quotas but preserves usage counters.
func (c *Checker) Bind(ns id.NamespaceID, quotas Quotas) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.grants[ns]; ok {
		g.quotas = quotas
		return
	}
	c.grants[ns] = &grant{
		caps:   make(map[Kind]Capability),
		quotas: quotas,
	}
}

// Remove tears down all grants and counters for a namespace.
func (c *Checker) Remove(ns id.NamespaceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.grants, ns)
}

// Grant adds capabilities to a namespace. Unknown namespaces are ignored;
// capabilities are bound at app load, never for unregistered tenants.
func (c *Checker) Grant(ns id.NamespaceID, kinds ...Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.grants[ns]
	if !ok {
		return
	}
	for _, k := range kinds {
		if _, exists := g.caps[k]; !exists {
			g.caps[k] = Capability{ID: c.capIDs.Next(), Kind: k}
		}
	}
}

// Revoke removes a capability from a namespace.
func (c *Checker) Revoke(ns id.NamespaceID, kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.grants[ns]; ok {
		delete(g.caps, kind)
	}
}

// Has reports whether the namespace holds the capability, without
// touching quotas.
func (c *Checker) Has(ns id.NamespaceID, kind Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	g, ok := c.grants[ns]
	if !ok {
		return false
	}
	_, held := g.caps[kind]
	return held
}

// Authorize checks capability then quota for the operation class,
// consuming quota on success. Resource-freeing kinds (destroy) never
// consume quota; their release happens via ReleaseEntity/ReleaseLayer
// once the processor has actually removed the resource.
func (c *Checker) Authorize(ns id.NamespaceID, kind Kind) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.grants[ns]
	if !ok {
		return DeniedCapability
	}
	if _, held := g.caps[kind]; !held {
		return DeniedCapability
	}

	if exceeded(g.quotas.PatchesPerFrame, g.used.FramePatches) {
		return DeniedQuota
	}

	switch kind {
	case CreateEntity:
		if exceeded(g.quotas.MaxEntities, g.used.Entities) ||
			exceeded(g.quotas.EntitiesPerFrame, g.used.FrameEntities) {
			return DeniedQuota
		}
		g.used.Entities++
		g.used.FrameEntities++
	case CreateLayer:
		if exceeded(g.quotas.MaxLayers, g.used.Layers) {
			return DeniedQuota
		}
		g.used.Layers++
	}

	g.used.FramePatches++
	return Allowed
}

// exceeded reports whether consuming one more unit would pass the cap.
// A cap of zero means unlimited.
func exceeded(limit, used int) bool {
	return limit > 0 && used >= limit
}

// ReleaseEntity returns one entity slot to the namespace's cumulative pool.
func (c *Checker) ReleaseEntity(ns id.NamespaceID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.grants[ns]; ok && g.used.Entities > 0 {
		g.used.Entities--
	}
}

// ReleaseLayer returns one layer slot to the namespace's cumulative pool.
func (c *Checker) ReleaseLayer(ns id.NamespaceID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.grants[ns]; ok && g.used.Layers > 0 {
		g.used.Layers--
	}
}

// ResetFrameQuotas restores rate-limited pools for every namespace.
// Called once per frame boundary by the kernel; cumulative caps are
// untouched.
func (c *Checker) ResetFrameQuotas() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, g := range c.grants {
		g.used.FrameEntities = 0
		g.used.FramePatches = 0
	}
}

// UsageFor returns a copy of the namespace's current consumption.
func (c *Checker) UsageFor(ns id.NamespaceID) (Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	g, ok := c.grants[ns]
	if !ok {
		return Usage{}, false
	}
	return g.used, true
}

// Capabilities returns a copy of the namespace's granted capability set.
func (c *Checker) Capabilities(ns id.NamespaceID) []Capability {
	c.mu.RLock()
	defer c.mu.RUnlock()

	g, ok := c.grants[ns]
	if !ok {
		return nil
	}
	caps := make([]Capability, 0, len(g.caps))
	for _, cp := range g.caps {
		caps = append(caps, cp)
	}
	return caps
}
