// Package id provides deterministic ID allocation for the kernel.
//
// Numeric IDs (namespaces, layers, entities) come from per-kernel Sequence
// allocators rather than process-wide counters, so multiple kernel instances
// in the same process never share allocation state and tests see stable IDs.
// App instance IDs remain UUIDs: they cross the host boundary as strings and
// must stay unique across kernel restarts.
package id

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// NamespaceID identifies the isolation boundary owned by one app.
type NamespaceID uint64

// LayerID identifies a render layer.
type LayerID uint64

// EntityID identifies an entity inside the shared world.
type EntityID uint64

// AppID identifies a loaded app instance.
type AppID string

// InvalidNamespace is never allocated; the zero value marks "no owner".
const InvalidNamespace NamespaceID = 0

// Sequence allocates monotonically increasing uint64 IDs starting at 1.
type Sequence struct {
	next atomic.Uint64
}

// NewSequence creates an allocator whose first Next() returns 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next ID in the sequence.
func (s *Sequence) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the most recently allocated ID, 0 if none.
func (s *Sequence) Current() uint64 {
	return s.next.Load()
}

// Rewind advances the sequence so the next allocation is strictly greater
// than n. Used when rehydrating a kernel from a snapshot.
func (s *Sequence) Rewind(n uint64) {
	for {
		cur := s.next.Load()
		if cur >= n {
			return
		}
		if s.next.CompareAndSwap(cur, n) {
			return
		}
	}
}

// NewAppID generates a new app instance ID.
func NewAppID() AppID {
	return AppID(uuid.New().String())
}

func (id NamespaceID) Uint64() uint64 { return uint64(id) }
func (id LayerID) Uint64() uint64     { return uint64(id) }
func (id EntityID) Uint64() uint64    { return uint64(id) }
func (id AppID) String() string       { return string(id) }
