// Package patch is the only path by which apps mutate the shared world.
//
// Submission and application are decoupled: Submit appends to a
// per-namespace queue and returns immediately, while the kernel drains
// queues once per frame and runs validation/application serially. A
// producer is never stalled by the cost of processing another
// namespace's patches.
package patch

import (
	"errors"
	"sort"
	"sync"

	"github.com/hearth-engine/hearth/internal/shared/id"
	"github.com/hearth-engine/hearth/internal/shared/types"
)

var (
	ErrUnknownNamespace  = errors.New("namespace not registered on bus")
	ErrNamespaceMismatch = errors.New("transaction namespace does not match handle")
	ErrQueueFull         = errors.New("namespace transaction queue full")
	ErrEmptyTransaction  = errors.New("transaction has no patches")
)

// DefaultQueueDepth bounds how many transactions one namespace may have
// queued between drains.
const DefaultQueueDepth = 256

// Handle is a namespace's capability to submit transactions.
// One handle exists per namespace; Register is idempotent.
type Handle struct {
	ns  id.NamespaceID
	bus *Bus
}

// Namespace returns the namespace this handle submits for.
func (h *Handle) Namespace() id.NamespaceID {
	return h.ns
}

// Submit enqueues a transaction without blocking on application.
// The transaction and all its patches must carry the handle's
// namespace; nothing is applied here.
func (h *Handle) Submit(tx types.Transaction) error {
	return h.bus.submit(h.ns, tx)
}

// Bus buffers transactions per namespace until the kernel drains them.
type Bus struct {
	mu         sync.Mutex
	queues     map[id.NamespaceID][]types.Transaction
	handles    map[id.NamespaceID]*Handle
	queueDepth int
}

// NewBus creates a bus with the given per-namespace queue depth.
func NewBus(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Bus{
		queues:     make(map[id.NamespaceID][]types.Transaction),
		handles:    make(map[id.NamespaceID]*Handle),
		queueDepth: queueDepth,
	}
}

// Register creates (or returns the existing) handle for a namespace.
func (b *Bus) Register(ns id.NamespaceID) *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h, ok := b.handles[ns]; ok {
		return h
	}
	h := &Handle{ns: ns, bus: b}
	b.handles[ns] = h
	b.queues[ns] = nil
	return h
}

// Unregister revokes a namespace's handle and drops its queued work.
func (b *Bus) Unregister(ns id.NamespaceID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handles, ns)
	delete(b.queues, ns)
}

func (b *Bus) submit(ns id.NamespaceID, tx types.Transaction) error {
	if len(tx.Patches) == 0 {
		return ErrEmptyTransaction
	}
	if tx.Namespace != ns {
		return ErrNamespaceMismatch
	}
	for _, p := range tx.Patches {
		if p.Namespace != ns {
			return ErrNamespaceMismatch
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handles[ns]; !ok {
		return ErrUnknownNamespace
	}
	if len(b.queues[ns]) >= b.queueDepth {
		return ErrQueueFull
	}
	b.queues[ns] = append(b.queues[ns], tx)
	return nil
}

// ReceivePending moves all queued transactions into the processing
// buffer and returns them. Per-namespace order is FIFO; namespaces are
// drained in ascending ID order so a frame's work is deterministic.
func (b *Bus) ReceivePending() []types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()

	nss := make([]id.NamespaceID, 0, len(b.queues))
	for ns := range b.queues {
		if len(b.queues[ns]) > 0 {
			nss = append(nss, ns)
		}
	}
	sort.Slice(nss, func(i, j int) bool { return nss[i] < nss[j] })

	var out []types.Transaction
	for _, ns := range nss {
		out = append(out, b.queues[ns]...)
		b.queues[ns] = nil
	}
	return out
}

// PendingCount returns how many transactions are queued across all
// namespaces.
func (b *Bus) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int
	for _, q := range b.queues {
		n += len(q)
	}
	return n
}
