package capability

import (
	"testing"

	"github.com/hearth-engine/hearth/internal/shared/id"
	"github.com/stretchr/testify/assert"
)

func TestAuthorizeRequiresGrant(t *testing.T) {
	c := NewChecker()
	ns := id.NamespaceID(1)
	c.Bind(ns, Quotas{})

	assert.Equal(t, DeniedCapability, c.Authorize(ns, CreateEntity))

	c.Grant(ns, CreateEntity)
	assert.Equal(t, Allowed, c.Authorize(ns, CreateEntity))
}

func TestAuthorizeUnknownNamespace(t *testing.T) {
	c := NewChecker()
	assert.Equal(t, DeniedCapability, c.Authorize(id.NamespaceID(99), CreateEntity))
}

func TestRevoke(t *testing.T) {
	c := NewChecker()
	ns := id.NamespaceID(1)
	c.Bind(ns, Quotas{})
	c.Grant(ns, CreateLayer)

	assert.True(t, c.Has(ns, CreateLayer))
	c.Revoke(ns, CreateLayer)
	assert.False(t, c.Has(ns, CreateLayer))
	assert.Equal(t, DeniedCapability, c.Authorize(ns, CreateLayer))
}

func TestCumulativeEntityQuota(t *testing.T) {
	c := NewChecker()
	ns := id.NamespaceID(1)
	c.Bind(ns, Quotas{MaxEntities: 2})
	c.Grant(ns, CreateEntity)

	assert.Equal(t, Allowed, c.Authorize(ns, CreateEntity))
	assert.Equal(t, Allowed, c.Authorize(ns, CreateEntity))
	assert.Equal(t, DeniedQuota, c.Authorize(ns, CreateEntity))

	// Destroying an entity frees a slot.
	c.ReleaseEntity(ns)
	assert.Equal(t, Allowed, c.Authorize(ns, CreateEntity))
}

func TestFrameQuotaResets(t *testing.T) {
	c := NewChecker()
	ns := id.NamespaceID(1)
	c.Bind(ns, Quotas{EntitiesPerFrame: 1})
	c.Grant(ns, CreateEntity)

	assert.Equal(t, Allowed, c.Authorize(ns, CreateEntity))
	assert.Equal(t, DeniedQuota, c.Authorize(ns, CreateEntity))

	c.ResetFrameQuotas()
	assert.Equal(t, Allowed, c.Authorize(ns, CreateEntity))
}

func TestResetLeavesCumulativeCaps(t *testing.T) {
	c := NewChecker()
	ns := id.NamespaceID(1)
	c.Bind(ns, Quotas{MaxEntities: 1, EntitiesPerFrame: 5})
	c.Grant(ns, CreateEntity)

	assert.Equal(t, Allowed, c.Authorize(ns, CreateEntity))
	c.ResetFrameQuotas()

	// Cumulative cap is still exhausted after the frame reset.
	assert.Equal(t, DeniedQuota, c.Authorize(ns, CreateEntity))
}

func TestPatchesPerFrame(t *testing.T) {
	c := NewChecker()
	ns := id.NamespaceID(1)
	c.Bind(ns, Quotas{PatchesPerFrame: 2})
	c.Grant(ns, UpdateComponent)

	assert.Equal(t, Allowed, c.Authorize(ns, UpdateComponent))
	assert.Equal(t, Allowed, c.Authorize(ns, UpdateComponent))
	assert.Equal(t, DeniedQuota, c.Authorize(ns, UpdateComponent))
}

func TestRemoveDropsGrants(t *testing.T) {
	c := NewChecker()
	ns := id.NamespaceID(1)
	c.Bind(ns, Quotas{})
	c.Grant(ns, CreateEntity)

	c.Remove(ns)
	assert.False(t, c.Has(ns, CreateEntity))
	_, ok := c.UsageFor(ns)
	assert.False(t, ok)
}

func TestQuotaIsolationBetweenNamespaces(t *testing.T) {
	c := NewChecker()
	ns1 := id.NamespaceID(1)
	ns2 := id.NamespaceID(2)
	c.Bind(ns1, Quotas{MaxEntities: 1})
	c.Bind(ns2, Quotas{MaxEntities: 1})
	c.Grant(ns1, CreateEntity)
	c.Grant(ns2, CreateEntity)

	assert.Equal(t, Allowed, c.Authorize(ns1, CreateEntity))
	assert.Equal(t, DeniedQuota, c.Authorize(ns1, CreateEntity))

	// ns1 exhausting its quota never affects ns2.
	assert.Equal(t, Allowed, c.Authorize(ns2, CreateEntity))
}
