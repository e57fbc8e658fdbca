package world

import (
	"testing"

	"github.com/hearth-engine/hearth/internal/shared/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	w := New()
	ns := id.NamespaceID(1)

	eid := w.CreateEntity(ns)
	e, ok := w.Get(eid)
	require.True(t, ok)
	assert.Equal(t, ns, e.Namespace)
	assert.Equal(t, 1, w.Count())
}

func TestDestroyWrongNamespace(t *testing.T) {
	w := New()
	eid := w.CreateEntity(id.NamespaceID(1))

	err := w.DestroyEntity(id.NamespaceID(2), eid)
	assert.ErrorIs(t, err, ErrWrongNamespace)

	// Entity survives the rejected destroy.
	_, ok := w.Get(eid)
	assert.True(t, ok)
}

func TestSetComponent(t *testing.T) {
	w := New()
	ns := id.NamespaceID(1)
	eid := w.CreateEntity(ns)

	require.NoError(t, w.SetComponent(ns, eid, "position", []byte(`{"x":1,"y":2}`)))

	e, _ := w.Get(eid)
	assert.Contains(t, e.Components, "position")

	assert.ErrorIs(t, w.SetComponent(ns, id.EntityID(999), "position", nil), ErrNotFound)
	assert.ErrorIs(t, w.SetComponent(id.NamespaceID(2), eid, "position", nil), ErrWrongNamespace)
}

func TestGetReturnsCopy(t *testing.T) {
	w := New()
	ns := id.NamespaceID(1)
	eid := w.CreateEntity(ns)
	require.NoError(t, w.SetComponent(ns, eid, "hp", []byte(`100`)))

	e, _ := w.Get(eid)
	delete(e.Components, "hp")

	again, _ := w.Get(eid)
	assert.Contains(t, again.Components, "hp")
}

func TestDestroyNamespace(t *testing.T) {
	w := New()
	ns1 := id.NamespaceID(1)
	ns2 := id.NamespaceID(2)

	w.CreateEntity(ns1)
	w.CreateEntity(ns1)
	kept := w.CreateEntity(ns2)

	reclaimed := w.DestroyNamespace(ns1)
	assert.Equal(t, 2, reclaimed)
	assert.Equal(t, 0, w.CountNamespace(ns1))

	// ns2 is untouched.
	_, ok := w.Get(kept)
	assert.True(t, ok)
	assert.Equal(t, 1, w.Count())
}
