// Package types provides shared data structures for the kernel runtime.
//
// This package defines the types that cross subsystem boundaries,
// keeping the leaf packages (patch bus, layer manager, watchdog)
// free of dependencies on each other.
//
// Core Types:
//   - Patch, Transaction: namespace-scoped mutation requests
//   - PatchResult, TransactionResult: per-patch validation outcomes
//   - KernelState, FrameContext: lifecycle and frame bookkeeping
//   - HealthLevel, RecoveryStats: liveness and fault accounting
//   - RenderGraph: the per-frame output handed to the presenter
package types
