package layer

import (
	"fmt"
	"testing"

	"github.com/hearth-engine/hearth/internal/shared/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectVisibleOrdering(t *testing.T) {
	m := NewManager(16)
	ns := id.NamespaceID(1)

	var ids []id.LayerID
	for _, prio := range []int{1, -1, 0} {
		cfg := DefaultConfig()
		cfg.Priority = prio
		lid, err := m.Create(fmt.Sprintf("layer-%d", prio), ns, cfg)
		require.NoError(t, err)
		ids = append(ids, lid)
	}

	visible := m.CollectVisible()
	require.Len(t, visible, 3)
	// Ascending priority: -1, 0, 1.
	assert.Equal(t, ids[1], visible[0])
	assert.Equal(t, ids[2], visible[1])
	assert.Equal(t, ids[0], visible[2])
}

func TestCollectVisibleFiltersHidden(t *testing.T) {
	m := NewManager(16)
	ns := id.NamespaceID(1)

	shown, _ := m.Create("shown", ns, DefaultConfig())
	hidden, _ := m.Create("hidden", ns, DefaultConfig())
	require.NoError(t, m.SetVisible(ns, hidden, false))

	visible := m.CollectVisible()
	assert.Equal(t, []id.LayerID{shown}, visible)
}

func TestCapacity(t *testing.T) {
	const n = 4
	m := NewManager(n)
	ns := id.NamespaceID(1)

	for i := 0; i < n; i++ {
		_, err := m.Create(fmt.Sprintf("l%d", i), ns, DefaultConfig())
		require.NoError(t, err)
	}

	_, err := m.Create("overflow", ns, DefaultConfig())
	assert.ErrorIs(t, err, ErrTooManyLayers)
}

func TestDestroyNamespaceLayersIsolation(t *testing.T) {
	m := NewManager(16)
	ns1 := id.NamespaceID(1)
	ns2 := id.NamespaceID(2)

	m.Create("a", ns1, DefaultConfig())
	m.Create("b", ns1, DefaultConfig())
	kept, _ := m.Create("c", ns2, DefaultConfig())

	removed := m.DestroyNamespaceLayers(ns1)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, m.CountNamespace(ns1))

	_, ok := m.Get(kept)
	assert.True(t, ok)
	assert.Equal(t, 1, m.Count())
}

func TestDestroyPermissions(t *testing.T) {
	m := NewManager(16)
	owner := id.NamespaceID(1)
	other := id.NamespaceID(2)

	lid, _ := m.Create("guarded", owner, DefaultConfig())

	assert.ErrorIs(t, m.Destroy(other, lid), ErrPermissionDenied)
	assert.ErrorIs(t, m.Destroy(owner, id.LayerID(999)), ErrNotFound)
	assert.NoError(t, m.Destroy(owner, lid))
}

func TestDirtyLifecycle(t *testing.T) {
	m := NewManager(16)
	ns := id.NamespaceID(1)

	lid, _ := m.Create("l", ns, DefaultConfig())

	// New layers start dirty.
	assert.Equal(t, []id.LayerID{lid}, m.CollectDirty())

	m.MarkRendered(lid, 7)
	assert.Empty(t, m.CollectDirty())

	l, _ := m.Get(lid)
	assert.Equal(t, uint64(7), l.LastRenderedFrame)
	assert.False(t, l.Dirty)

	// Any priority change re-dirties the layer.
	require.NoError(t, m.SetPriority(ns, lid, 3))
	assert.Equal(t, []id.LayerID{lid}, m.CollectDirty())
}

func TestVisibleCacheInvalidation(t *testing.T) {
	m := NewManager(16)
	ns := id.NamespaceID(1)

	a, _ := m.Create("a", ns, DefaultConfig())
	b, _ := m.Create("b", ns, DefaultConfig())

	first := m.CollectVisible()
	assert.Equal(t, []id.LayerID{a, b}, first)

	// Reprioritizing b below a must bust the cached order.
	require.NoError(t, m.SetPriority(ns, b, -5))
	assert.Equal(t, []id.LayerID{b, a}, m.CollectVisible())

	// Destroying a layer shrinks the visible set.
	require.NoError(t, m.Destroy(ns, a))
	assert.Equal(t, []id.LayerID{b}, m.CollectVisible())
}
