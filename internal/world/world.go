// Package world holds the shared mutable state that patches apply to.
//
// Entities are kept in a flat arena keyed by opaque IDs; the only
// back-reference is the owning namespace ID, so teardown of a namespace
// is a single index sweep and no reference cycles exist.
package world

import (
	"errors"
	"sync"

	"github.com/hearth-engine/hearth/internal/shared/id"
)

var (
	ErrNotFound       = errors.New("entity not found")
	ErrWrongNamespace = errors.New("entity belongs to another namespace")
)

// Entity is one namespace-owned object with opaque component payloads.
type Entity struct {
	ID         id.EntityID
	Namespace  id.NamespaceID
	Components map[string][]byte
}

// World is the arena of all live entities.
type World struct {
	mu          sync.RWMutex
	entities    map[id.EntityID]*Entity
	byNamespace map[id.NamespaceID]map[id.EntityID]struct{}
	entityIDs   *id.Sequence
}

// New creates an empty world with its own entity ID allocator.
func New() *World {
	return &World{
		entities:    make(map[id.EntityID]*Entity),
		byNamespace: make(map[id.NamespaceID]map[id.EntityID]struct{}),
		entityIDs:   id.NewSequence(),
	}
}

// CreateEntity allocates a new entity owned by ns.
func (w *World) CreateEntity(ns id.NamespaceID) id.EntityID {
	w.mu.Lock()
	defer w.mu.Unlock()

	eid := id.EntityID(w.entityIDs.Next())
	w.entities[eid] = &Entity{
		ID:         eid,
		Namespace:  ns,
		Components: make(map[string][]byte),
	}
	if w.byNamespace[ns] == nil {
		w.byNamespace[ns] = make(map[id.EntityID]struct{})
	}
	w.byNamespace[ns][eid] = struct{}{}
	return eid
}

// DestroyEntity removes an entity. The caller's namespace must own it.
func (w *World) DestroyEntity(ns id.NamespaceID, eid id.EntityID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[eid]
	if !ok {
		return ErrNotFound
	}
	if e.Namespace != ns {
		return ErrWrongNamespace
	}
	delete(w.entities, eid)
	delete(w.byNamespace[ns], eid)
	return nil
}

// SetComponent attaches or replaces a component payload on an entity.
func (w *World) SetComponent(ns id.NamespaceID, eid id.EntityID, name string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[eid]
	if !ok {
		return ErrNotFound
	}
	if e.Namespace != ns {
		return ErrWrongNamespace
	}
	e.Components[name] = data
	return nil
}

// RemoveComponent detaches a component from an entity.
func (w *World) RemoveComponent(ns id.NamespaceID, eid id.EntityID, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[eid]
	if !ok {
		return ErrNotFound
	}
	if e.Namespace != ns {
		return ErrWrongNamespace
	}
	delete(e.Components, name)
	return nil
}

// Get returns a copy of an entity, preventing external mutation.
func (w *World) Get(eid id.EntityID) (Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	e, ok := w.entities[eid]
	if !ok {
		return Entity{}, false
	}
	cp := Entity{ID: e.ID, Namespace: e.Namespace, Components: make(map[string][]byte, len(e.Components))}
	for k, v := range e.Components {
		cp.Components[k] = v
	}
	return cp, true
}

// Owner returns the namespace owning an entity.
func (w *World) Owner(eid id.EntityID) (id.NamespaceID, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	e, ok := w.entities[eid]
	if !ok {
		return id.InvalidNamespace, false
	}
	return e.Namespace, true
}

// Count returns the total number of live entities.
func (w *World) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entities)
}

// CountNamespace returns the number of entities owned by ns.
func (w *World) CountNamespace(ns id.NamespaceID) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.byNamespace[ns])
}

// DestroyNamespace removes every entity owned by ns and returns how
// many were reclaimed. Entities of other namespaces are untouched.
func (w *World) DestroyNamespace(ns id.NamespaceID) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	owned := w.byNamespace[ns]
	for eid := range owned {
		delete(w.entities, eid)
	}
	n := len(owned)
	delete(w.byNamespace, ns)
	return n
}

// IDCursor returns the highest entity ID allocated so far.
func (w *World) IDCursor() uint64 {
	return w.entityIDs.Current()
}

// RewindIDs advances the entity allocator past n so a rehydrated world
// never re-issues IDs from before the snapshot.
func (w *World) RewindIDs(n uint64) {
	w.entityIDs.Rewind(n)
}
