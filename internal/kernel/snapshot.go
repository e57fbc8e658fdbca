package kernel

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/hearth-engine/hearth/internal/shared/types"
)

// Snapshot is the minimal persisted state needed to rehydrate a kernel
// after a host restart: the frame counter, the recovery counters, and
// the ID allocator cursors so restored instances never re-issue IDs
// from before the save.
type Snapshot struct {
	Frame           uint64              `json:"frame"`
	Recovery        types.RecoveryStats `json:"recovery"`
	EntityCursor    uint64              `json:"entity_cursor"`
	LayerCursor     uint64              `json:"layer_cursor"`
	NamespaceCursor uint64              `json:"namespace_cursor"`
	SavedAt         time.Time           `json:"saved_at"`
}

// Snapshot captures the kernel's rehydration state.
func (k *Kernel) Snapshot() Snapshot {
	k.mu.RLock()
	frame := k.frame
	recovery := k.recovery
	k.mu.RUnlock()

	return Snapshot{
		Frame:           frame,
		Recovery:        recovery,
		EntityCursor:    k.world.IDCursor(),
		LayerCursor:     k.layers.IDCursor(),
		NamespaceCursor: k.apps.NamespaceCursor(),
		SavedAt:         time.Now(),
	}
}

// SaveSnapshot writes the rehydration state to path.
func (k *Kernel) SaveSnapshot(path string) error {
	data, err := sonic.Marshal(k.Snapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	k.log.Info("snapshot saved", zap.String("path", path))
	return nil
}

// RestoreSnapshot rehydrates a freshly constructed kernel from path.
// Only valid before Start: a running kernel's counters are live.
func (k *Kernel) RestoreSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	return k.Restore(snap)
}

// Restore applies a snapshot to a kernel still in Initializing.
func (k *Kernel) Restore(snap Snapshot) error {
	k.mu.Lock()
	if k.state != types.StateInitializing {
		state := k.state
		k.mu.Unlock()
		return fmt.Errorf("%w: restore in %s", ErrInvalidTransition, state)
	}
	k.frame = snap.Frame
	k.recovery = snap.Recovery
	k.mu.Unlock()

	k.world.RewindIDs(snap.EntityCursor)
	k.layers.RewindIDs(snap.LayerCursor)
	k.apps.RewindNamespaces(snap.NamespaceCursor)

	k.log.Info("kernel rehydrated", zap.Uint64("frame", snap.Frame))
	return nil
}
