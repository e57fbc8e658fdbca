package types

import (
	"time"

	"github.com/hearth-engine/hearth/internal/shared/id"
)

// KernelState represents kernel lifecycle states.
// Stopped is terminal: no transitions leave it.
type KernelState string

const (
	StateInitializing KernelState = "initializing"
	StateRunning      KernelState = "running"
	StatePaused       KernelState = "paused"
	StateStopped      KernelState = "stopped"
)

// FrameContext carries per-frame bookkeeping into simulation call-outs.
type FrameContext struct {
	Frame     uint64  `json:"frame"`
	DeltaTime float64 `json:"delta_time"`
}

// RenderGraph is the per-frame compositing input: visible layer IDs in
// ascending priority order. The kernel hands this to the external
// presenter and knows nothing about how layers are drawn.
type RenderGraph struct {
	Frame  uint64       `json:"frame"`
	Layers []id.LayerID `json:"layers"`
}

// FrameStats summarizes recent frame timings for the status API.
type FrameStats struct {
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// KernelStatus aggregates kernel state for observers.
type KernelStatus struct {
	State      KernelState `json:"state"`
	Frame      uint64      `json:"frame"`
	Uptime     float64     `json:"uptime_seconds"`
	Apps       int         `json:"apps"`
	Layers     int         `json:"layers"`
	Entities   int         `json:"entities"`
	Health     HealthLevel `json:"health"`
	Backend    string      `json:"backend"`
	FrameStats FrameStats  `json:"frame_stats"`
	StartedAt  time.Time   `json:"started_at"`
	PanicCount uint64      `json:"panic_count"`
	Recoveries uint64      `json:"recovery_count"`
}
