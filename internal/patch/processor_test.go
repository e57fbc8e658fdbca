package patch

import (
	"testing"

	"github.com/hearth-engine/hearth/internal/capability"
	"github.com/hearth-engine/hearth/internal/layer"
	"github.com/hearth-engine/hearth/internal/shared/id"
	"github.com/hearth-engine/hearth/internal/shared/types"
	"github.com/hearth-engine/hearth/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allCapabilities() []capability.Kind {
	return []capability.Kind{
		capability.CreateEntity, capability.DestroyEntity,
		capability.UpdateComponent,
		capability.CreateLayer, capability.UpdateLayer, capability.DestroyLayer,
	}
}

type fixture struct {
	checker *capability.Checker
	layers  *layer.Manager
	world   *world.World
	proc    *Processor
}

func newFixture(layerCap int) *fixture {
	f := &fixture{
		checker: capability.NewChecker(),
		layers:  layer.NewManager(layerCap),
		world:   world.New(),
	}
	f.proc = NewProcessor(f.checker, f.layers, nil)
	return f
}

func (f *fixture) bind(ns uint64, quotas capability.Quotas, kinds ...capability.Kind) {
	f.checker.Bind(id.NamespaceID(ns), quotas)
	if len(kinds) == 0 {
		kinds = allCapabilities()
	}
	f.checker.Grant(id.NamespaceID(ns), kinds...)
}

func TestEntityCreateApplied(t *testing.T) {
	f := newFixture(16)
	f.bind(1, capability.Quotas{})

	res := f.proc.Process(f.world, []types.Transaction{tx(1, entityCreate(1))})
	require.Len(t, res, 1)
	require.True(t, res[0].OK())
	assert.NotZero(t, res[0].Results[0].Created)
	assert.Equal(t, 1, f.world.Count())
}

func TestCrossNamespaceRefRejected(t *testing.T) {
	f := newFixture(16)
	f.bind(1, capability.Quotas{})
	f.bind(2, capability.Quotas{})

	// ns2 owns an entity; ns1 submits a destroy referencing it with a
	// forged ref pair.
	victim := f.world.CreateEntity(id.NamespaceID(2))

	hostile := types.Transaction{
		Namespace: id.NamespaceID(1),
		Patches: []types.Patch{{
			Namespace: id.NamespaceID(1),
			Kind:      types.KindEntity,
			Op:        types.OpDestroy,
			Ref:       &types.Ref{Namespace: id.NamespaceID(2), LocalID: victim.Uint64()},
		}},
	}

	res := f.proc.Process(f.world, []types.Transaction{hostile})
	require.Len(t, res, 1)
	assert.Equal(t, types.PatchRejected, res[0].Results[0].Status)
	assert.Equal(t, types.RejectNamespaceMismatch, res[0].Results[0].Reason)

	// The victim entity is untouched.
	_, ok := f.world.Get(victim)
	assert.True(t, ok)
}

func TestForgedLocalIDRejectedByWorld(t *testing.T) {
	f := newFixture(16)
	f.bind(1, capability.Quotas{})
	f.bind(2, capability.Quotas{})

	victim := f.world.CreateEntity(id.NamespaceID(2))

	// Ref namespace matches the submitter, but the entity belongs to
	// ns2: the world's ownership check is the last line of defense.
	hostile := types.Transaction{
		Namespace: id.NamespaceID(1),
		Patches: []types.Patch{{
			Namespace: id.NamespaceID(1),
			Kind:      types.KindEntity,
			Op:        types.OpDestroy,
			Ref:       &types.Ref{Namespace: id.NamespaceID(1), LocalID: victim.Uint64()},
		}},
	}

	res := f.proc.Process(f.world, []types.Transaction{hostile})
	assert.Equal(t, types.RejectNamespaceMismatch, res[0].Results[0].Reason)
	_, ok := f.world.Get(victim)
	assert.True(t, ok)
}

func TestCapabilityDenied(t *testing.T) {
	f := newFixture(16)
	f.bind(1, capability.Quotas{}, capability.UpdateComponent) // no CreateEntity

	res := f.proc.Process(f.world, []types.Transaction{tx(1, entityCreate(1))})
	assert.Equal(t, types.RejectCapabilityDenied, res[0].Results[0].Reason)
	assert.Equal(t, 0, f.world.Count())
}

func TestQuotaExceeded(t *testing.T) {
	f := newFixture(16)
	f.bind(1, capability.Quotas{MaxEntities: 1})

	res := f.proc.Process(f.world, []types.Transaction{
		tx(1, entityCreate(1)),
		tx(1, entityCreate(1)),
	})
	assert.True(t, res[0].OK())
	assert.Equal(t, types.RejectQuotaExceeded, res[1].Results[0].Reason)
	assert.Equal(t, 1, f.world.Count())
}

func TestSkipAfterFirstFailureNoRollback(t *testing.T) {
	f := newFixture(16)
	f.bind(1, capability.Quotas{})

	bad := types.Patch{
		Namespace: id.NamespaceID(2), // mismatched inside the batch
		Kind:      types.KindEntity,
		Op:        types.OpCreate,
	}

	res := f.proc.Process(f.world, []types.Transaction{
		tx(1, entityCreate(1), bad, entityCreate(1)),
	})
	require.Len(t, res[0].Results, 3)
	assert.Equal(t, types.PatchApplied, res[0].Results[0].Status)
	assert.Equal(t, types.PatchRejected, res[0].Results[1].Status)
	assert.Equal(t, types.PatchSkipped, res[0].Results[2].Status)
	assert.Equal(t, 1, res[0].Applied)
	assert.Equal(t, 1, res[0].Rejected)

	// The first patch's entity stays applied.
	assert.Equal(t, 1, f.world.Count())
}

func TestComponentOps(t *testing.T) {
	f := newFixture(16)
	f.bind(1, capability.Quotas{})
	eid := f.world.CreateEntity(id.NamespaceID(1))

	set := types.Patch{
		Namespace: id.NamespaceID(1),
		Kind:      types.KindComponent,
		Op:        types.OpUpdate,
		Ref:       &types.Ref{Namespace: id.NamespaceID(1), LocalID: eid.Uint64()},
		Data:      []byte(`{"name":"position","value":{"x":3}}`),
	}

	res := f.proc.Process(f.world, []types.Transaction{tx(1, set)})
	require.True(t, res[0].OK())

	e, _ := f.world.Get(eid)
	assert.Contains(t, e.Components, "position")
}

func TestMalformedPayloadRejected(t *testing.T) {
	f := newFixture(16)
	f.bind(1, capability.Quotas{})
	eid := f.world.CreateEntity(id.NamespaceID(1))

	garbage := types.Patch{
		Namespace: id.NamespaceID(1),
		Kind:      types.KindComponent,
		Op:        types.OpUpdate,
		Ref:       &types.Ref{Namespace: id.NamespaceID(1), LocalID: eid.Uint64()},
		Data:      []byte(`{{not json`),
	}

	res := f.proc.Process(f.world, []types.Transaction{tx(1, garbage)})
	assert.Equal(t, types.RejectMalformed, res[0].Results[0].Reason)
}

func TestLayerLifecycleViaPatches(t *testing.T) {
	f := newFixture(16)
	f.bind(1, capability.Quotas{})

	create := types.Patch{
		Namespace: id.NamespaceID(1),
		Kind:      types.KindLayer,
		Op:        types.OpCreate,
		Data:      []byte(`{"name":"hud","config":{"type":"ui","priority":10,"blend_mode":"alpha","visible":true,"opacity":1}}`),
	}

	res := f.proc.Process(f.world, []types.Transaction{tx(1, create)})
	require.True(t, res[0].OK())
	lid := id.LayerID(res[0].Results[0].Created)

	l, ok := f.layers.Get(lid)
	require.True(t, ok)
	assert.Equal(t, 10, l.Config.Priority)

	hide := types.Patch{
		Namespace: id.NamespaceID(1),
		Kind:      types.KindLayer,
		Op:        types.OpUpdate,
		Ref:       &types.Ref{Namespace: id.NamespaceID(1), LocalID: lid.Uint64()},
		Data:      []byte(`{"visible":false}`),
	}
	res = f.proc.Process(f.world, []types.Transaction{tx(1, hide)})
	require.True(t, res[0].OK())
	assert.Empty(t, f.layers.CollectVisible())

	destroy := types.Patch{
		Namespace: id.NamespaceID(1),
		Kind:      types.KindLayer,
		Op:        types.OpDestroy,
		Ref:       &types.Ref{Namespace: id.NamespaceID(1), LocalID: lid.Uint64()},
	}
	res = f.proc.Process(f.world, []types.Transaction{tx(1, destroy)})
	require.True(t, res[0].OK())
	assert.Equal(t, 0, f.layers.Count())
}

func TestLayerCapacityRejection(t *testing.T) {
	f := newFixture(1)
	f.bind(1, capability.Quotas{})

	mk := func() types.Patch {
		return types.Patch{
			Namespace: id.NamespaceID(1),
			Kind:      types.KindLayer,
			Op:        types.OpCreate,
			Data:      []byte(`{"name":"l"}`),
		}
	}

	res := f.proc.Process(f.world, []types.Transaction{tx(1, mk()), tx(1, mk())})
	assert.True(t, res[0].OK())
	assert.Equal(t, types.RejectTooManyLayers, res[1].Results[0].Reason)

	// The failed create handed its per-namespace slot back.
	usage, _ := f.checker.UsageFor(id.NamespaceID(1))
	assert.Equal(t, 1, usage.Layers)
}

func TestForeignLayerDestroyRejected(t *testing.T) {
	f := newFixture(16)
	f.bind(1, capability.Quotas{})
	f.bind(2, capability.Quotas{})

	lid, err := f.layers.Create("owned", id.NamespaceID(2), layer.DefaultConfig())
	require.NoError(t, err)

	destroy := types.Patch{
		Namespace: id.NamespaceID(1),
		Kind:      types.KindLayer,
		Op:        types.OpDestroy,
		Ref:       &types.Ref{Namespace: id.NamespaceID(1), LocalID: lid.Uint64()},
	}

	res := f.proc.Process(f.world, []types.Transaction{tx(1, destroy)})
	assert.Equal(t, types.RejectNamespaceMismatch, res[0].Results[0].Reason)
	assert.Equal(t, 1, f.layers.Count())
}

func TestUnknownOpRejected(t *testing.T) {
	f := newFixture(16)
	f.bind(1, capability.Quotas{})

	weird := types.Patch{
		Namespace: id.NamespaceID(1),
		Kind:      types.PatchKind("gizmo"),
		Op:        types.OpCreate,
	}
	res := f.proc.Process(f.world, []types.Transaction{tx(1, weird)})
	assert.Equal(t, types.RejectMalformed, res[0].Results[0].Reason)
}
