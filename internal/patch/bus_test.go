package patch

import (
	"sync"
	"testing"

	"github.com/hearth-engine/hearth/internal/shared/id"
	"github.com/hearth-engine/hearth/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func entityCreate(ns uint64) types.Patch {
	return types.Patch{
		Namespace: id.NamespaceID(ns),
		Kind:      types.KindEntity,
		Op:        types.OpCreate,
	}
}

func tx(ns uint64, patches ...types.Patch) types.Transaction {
	return types.Transaction{Namespace: id.NamespaceID(ns), Patches: patches}
}

func TestRegisterIdempotent(t *testing.T) {
	b := NewBus(0)
	h1 := b.Register(id.NamespaceID(1))
	h2 := b.Register(id.NamespaceID(1))
	assert.Same(t, h1, h2)
	assert.Equal(t, id.NamespaceID(1), h1.Namespace())
}

func TestSubmitQueuesWithoutApplying(t *testing.T) {
	b := NewBus(0)
	h := b.Register(id.NamespaceID(1))

	require.NoError(t, h.Submit(tx(1, entityCreate(1))))
	assert.Equal(t, 1, b.PendingCount())

	drained := b.ReceivePending()
	require.Len(t, drained, 1)
	assert.Equal(t, 0, b.PendingCount())

	// Draining moved the work out; a second receive is empty.
	assert.Empty(t, b.ReceivePending())
}

func TestSubmitValidatesNamespace(t *testing.T) {
	b := NewBus(0)
	h := b.Register(id.NamespaceID(1))

	assert.ErrorIs(t, h.Submit(tx(2, entityCreate(2))), ErrNamespaceMismatch)

	// A foreign patch inside an otherwise-matching transaction is
	// rejected at the door.
	assert.ErrorIs(t, h.Submit(tx(1, entityCreate(1), entityCreate(2))), ErrNamespaceMismatch)

	assert.ErrorIs(t, h.Submit(tx(1)), ErrEmptyTransaction)
}

func TestSubmitAfterUnregister(t *testing.T) {
	b := NewBus(0)
	h := b.Register(id.NamespaceID(1))
	b.Unregister(id.NamespaceID(1))

	assert.ErrorIs(t, h.Submit(tx(1, entityCreate(1))), ErrUnknownNamespace)
}

func TestQueueDepth(t *testing.T) {
	b := NewBus(2)
	h := b.Register(id.NamespaceID(1))

	require.NoError(t, h.Submit(tx(1, entityCreate(1))))
	require.NoError(t, h.Submit(tx(1, entityCreate(1))))
	assert.ErrorIs(t, h.Submit(tx(1, entityCreate(1))), ErrQueueFull)
}

func TestReceivePendingDeterministicOrder(t *testing.T) {
	b := NewBus(0)
	h2 := b.Register(id.NamespaceID(2))
	h1 := b.Register(id.NamespaceID(1))

	require.NoError(t, h2.Submit(tx(2, entityCreate(2))))
	require.NoError(t, h1.Submit(tx(1, entityCreate(1))))
	require.NoError(t, h1.Submit(tx(1, entityCreate(1))))

	drained := b.ReceivePending()
	require.Len(t, drained, 3)
	// Ascending namespace, FIFO within a namespace.
	assert.Equal(t, id.NamespaceID(1), drained[0].Namespace)
	assert.Equal(t, id.NamespaceID(1), drained[1].Namespace)
	assert.Equal(t, id.NamespaceID(2), drained[2].Namespace)
}

func TestConcurrentSubmitters(t *testing.T) {
	b := NewBus(4096)
	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		ns := id.NamespaceID(uint64(i + 1))
		h := b.Register(ns)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				_ = h.Submit(tx(ns.Uint64(), entityCreate(ns.Uint64())))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, len(b.ReceivePending()))
}
