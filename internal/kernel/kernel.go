// Package kernel orchestrates the frame-driven runtime.
//
// The kernel owns every subsystem (world, patch bus, layer table,
// supervisor tree, watchdog, backend selector, app manager) and drives
// the frame lifecycle: begin frame, run app call-outs, drain and apply
// transactions, reclaim dead namespaces, build the render graph, end
// frame. App misbehavior is contained here; it never escapes as a
// panic or a deadlock.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/hearth-engine/hearth/internal/app"
	"github.com/hearth-engine/hearth/internal/capability"
	"github.com/hearth-engine/hearth/internal/gpu"
	"github.com/hearth-engine/hearth/internal/infrastructure/config"
	"github.com/hearth-engine/hearth/internal/infrastructure/monitoring"
	"github.com/hearth-engine/hearth/internal/layer"
	"github.com/hearth-engine/hearth/internal/patch"
	"github.com/hearth-engine/hearth/internal/shared/id"
	"github.com/hearth-engine/hearth/internal/shared/types"
	"github.com/hearth-engine/hearth/internal/supervise"
	"github.com/hearth-engine/hearth/internal/watchdog"
	"github.com/hearth-engine/hearth/internal/world"
)

var (
	ErrNotRunning        = errors.New("kernel is not running")
	ErrInvalidTransition = errors.New("invalid kernel state transition")
)

// frameStatsWindow is how many recent frame durations feed the status
// report's timing statistics.
const frameStatsWindow = 120

// Kernel is the orchestrator. All subsystem access goes through it.
type Kernel struct {
	cfg config.KernelConfig
	log *zap.Logger

	world    *world.World
	layers   *layer.Manager
	bus      *patch.Bus
	checker  *capability.Checker
	proc     *patch.Processor
	apps     *app.Manager
	tree     *supervise.Tree
	dog      *watchdog.Watchdog
	selector *gpu.Selector
	metrics  *monitoring.Metrics
	registry *prometheus.Registry

	mu         sync.RWMutex
	state      types.KernelState
	frame      uint64
	startedAt  time.Time
	frameStart time.Time
	recovery   types.RecoveryStats

	// Ring of recent frame durations in milliseconds.
	samples   []float64
	sampleIdx int
	sampleN   int
}

// New constructs a kernel in the Initializing state. The backends map
// describes what the host's GPU probe found; the software backend is
// always available regardless.
func New(cfg *config.Config, backends map[gpu.Backend]gpu.Capabilities, log *zap.Logger) *Kernel {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("kernel")

	bus := patch.NewBus(cfg.Kernel.QueueDepth)
	checker := capability.NewChecker()
	layers := layer.NewManager(cfg.Kernel.MaxLayers)
	tree := supervise.NewTree()
	metrics, registry := monitoring.New()

	return &Kernel{
		cfg:     cfg.Kernel,
		log:     log,
		world:   world.New(),
		layers:  layers,
		bus:     bus,
		checker: checker,
		proc:    patch.NewProcessor(checker, layers, log),
		apps:    app.NewManager(cfg.Kernel.MaxApps, bus, checker, tree, log),
		tree:    tree,
		dog: watchdog.New(watchdog.Config{
			Enabled:          cfg.Watchdog.Enabled,
			HeartbeatTimeout: time.Duration(cfg.Watchdog.HeartbeatTimeoutMs) * time.Millisecond,
			CheckInterval:    time.Duration(cfg.Watchdog.CheckIntervalMs) * time.Millisecond,
		}),
		selector: gpu.NewSelector(backends),
		metrics:  metrics,
		registry: registry,
		state:    types.StateInitializing,
		samples:  make([]float64, frameStatsWindow),
	}
}

// Start transitions Initializing -> Running.
func (k *Kernel) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != types.StateInitializing {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, k.state)
	}
	k.state = types.StateRunning
	k.startedAt = time.Now()
	k.log.Info("kernel started",
		zap.Int("target_fps", k.cfg.TargetFPS),
		zap.String("backend", string(k.selector.Current())))
	return nil
}

// Pause transitions Running -> Paused. Any other state is left
// untouched and an error is returned.
func (k *Kernel) Pause() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != types.StateRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, k.state)
	}
	k.state = types.StatePaused
	k.log.Info("kernel paused", zap.Uint64("frame", k.frame))
	return nil
}

// Resume transitions Paused -> Running. Any other state is left
// untouched and an error is returned.
func (k *Kernel) Resume() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != types.StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, k.state)
	}
	k.state = types.StateRunning
	k.log.Info("kernel resumed", zap.Uint64("frame", k.frame))
	return nil
}

// Shutdown transitions to the terminal Stopped state. Calling it on an
// already stopped kernel is a no-op.
func (k *Kernel) Shutdown() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state == types.StateStopped {
		return
	}
	k.state = types.StateStopped
	k.log.Info("kernel stopped",
		zap.Uint64("frames", k.frame),
		zap.Uint64("panics", k.recovery.PanicCount),
		zap.Uint64("recoveries", k.recovery.RecoveryCount))
}

// State returns the current lifecycle state.
func (k *Kernel) State() types.KernelState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// Frame returns the monotonic frame counter. Zero until the first
// BeginFrame after Start.
func (k *Kernel) Frame() uint64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.frame
}

// BeginFrame opens a frame: clamps dt to the configured ceiling and
// increments the frame counter. The first call after Start yields
// frame 1.
func (k *Kernel) BeginFrame(dt float64) (types.FrameContext, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != types.StateRunning {
		return types.FrameContext{}, fmt.Errorf("%w: begin_frame in %s", ErrNotRunning, k.state)
	}

	if dt < 0 {
		dt = 0
	}
	if dt > k.cfg.MaxDeltaTime {
		dt = k.cfg.MaxDeltaTime
	}

	k.frame++
	k.frameStart = time.Now()
	k.dog.Heartbeat("frame")
	return types.FrameContext{Frame: k.frame, DeltaTime: dt}, nil
}

// EndFrame finalizes per-frame bookkeeping: frame quota reset, timing
// statistics, resource gauges, and the watchdog sweep.
func (k *Kernel) EndFrame() {
	k.checker.ResetFrameQuotas()

	k.mu.Lock()
	elapsed := time.Since(k.frameStart)
	frame := k.frame
	k.samples[k.sampleIdx] = float64(elapsed.Microseconds()) / 1000.0
	k.sampleIdx = (k.sampleIdx + 1) % len(k.samples)
	if k.sampleN < len(k.samples) {
		k.sampleN++
	}
	k.mu.Unlock()

	level := k.dog.Check(frame)

	k.metrics.RecordFrame(elapsed)
	k.metrics.AppsActive.Set(float64(k.apps.Count()))
	k.metrics.LayersActive.Set(float64(k.layers.Count()))
	k.metrics.EntitiesTotal.Set(float64(k.world.Count()))
	k.metrics.HealthLevel.Set(float64(level))
}

// ProcessTransactions drains the bus and applies every pending
// transaction to the world, returning per-patch results in ascending
// namespace order.
func (k *Kernel) ProcessTransactions() []types.TransactionResult {
	// The drain itself is the liveness signal: an idle bus on a live
	// kernel must not decay health.
	txs := k.bus.ReceivePending()
	k.dog.Heartbeat("bus")
	if len(txs) == 0 {
		return nil
	}

	results := k.proc.Process(k.world, txs)

	for _, tr := range results {
		k.metrics.RecordTransaction()
		for _, pr := range tr.Results {
			k.metrics.RecordPatch(string(pr.Status), string(pr.Reason))
		}
	}
	return results
}

// Step runs one whole frame: app call-outs, supervisor handling,
// transaction processing, garbage collection, and bookkeeping. It
// returns the render graph for the external presenter.
func (k *Kernel) Step(ctx context.Context, dt float64) (types.RenderGraph, error) {
	fc, err := k.BeginFrame(dt)
	if err != nil {
		return types.RenderGraph{}, err
	}

	failures := k.apps.RunFrame(ctx, fc)
	k.beatLiveApps(failures)
	k.handleFailures(ctx, failures)

	k.ProcessTransactions()
	k.GC()

	graph := k.BuildRenderGraph()
	k.EndFrame()
	return graph, nil
}

// beatLiveApps records a heartbeat for every loaded app that did not
// fail this frame.
func (k *Kernel) beatLiveApps(failures []app.Failure) {
	failed := make(map[id.NamespaceID]struct{}, len(failures))
	for _, f := range failures {
		failed[f.Namespace] = struct{}{}
	}
	for _, a := range k.apps.List() {
		if _, ok := failed[a.Namespace]; !ok {
			k.dog.Heartbeat(appSubsystem(a.Namespace))
		}
	}
}

// handleFailures routes frame failures through the supervisor tree and
// executes the resulting restart plan synchronously, before any further
// transactions are processed for those namespaces.
func (k *Kernel) handleFailures(ctx context.Context, failures []app.Failure) {
	for _, f := range failures {
		if f.Panicked {
			k.metrics.RecordPanic()
			k.mu.Lock()
			k.recovery.PanicCount++
			k.mu.Unlock()
		}
		k.log.Warn("app failed",
			zap.String("app", f.AppID.String()),
			zap.Uint64("namespace", f.Namespace.Uint64()),
			zap.Bool("panicked", f.Panicked),
			zap.Error(f.Err))

		nid, ok := k.tree.FindByNamespace(f.Namespace)
		if !ok {
			continue
		}
		plan, err := k.tree.ReportFailure(nid)
		if err != nil {
			k.log.Error("supervisor report failed", zap.Error(err))
			continue
		}
		k.executePlan(ctx, plan)
	}
}

// executePlan restarts every node in the plan's restart set. Nodes the
// supervisor gave up on are left for GC to reclaim.
func (k *Kernel) executePlan(ctx context.Context, plan supervise.Plan) {
	for _, nid := range plan.Restart {
		node, ok := k.tree.Get(nid)
		if !ok || node.Namespace == id.InvalidNamespace {
			continue
		}
		if err := k.apps.RestartByNamespace(ctx, node.Namespace); err != nil {
			k.log.Error("restart failed",
				zap.Uint64("namespace", node.Namespace.Uint64()),
				zap.Error(err))
			continue
		}
		k.metrics.RecordRestart()
		k.mu.Lock()
		k.recovery.RecoveryCount++
		k.mu.Unlock()
	}

	for _, nid := range plan.GaveUp {
		if node, ok := k.tree.Get(nid); ok {
			k.log.Warn("supervisor gave up",
				zap.String("node", node.Name),
				zap.Uint64("namespace", node.Namespace.Uint64()),
				zap.Int("restarts", node.Restarts))
		}
	}
}

// GC reclaims every namespace whose supervisor gave up: the app
// registration, its layers, its world entities, its bus handle, and
// its watchdog entry. Idempotent; safe to call every frame.
func (k *Kernel) GC() int {
	dead := k.tree.DeadNamespaces()
	for _, ns := range dead {
		if _, err := k.apps.UnloadNamespace(ns); err != nil && !errors.Is(err, app.ErrAppNotFound) {
			k.log.Warn("gc unload failed", zap.Uint64("namespace", ns.Uint64()), zap.Error(err))
		}
		// A dead node with no registered app is removed directly.
		if nid, ok := k.tree.FindByNamespace(ns); ok {
			_ = k.tree.Remove(nid)
		}

		layers := k.layers.DestroyNamespaceLayers(ns)
		entities := k.world.DestroyNamespace(ns)
		k.bus.Unregister(ns)
		k.checker.Remove(ns)
		k.dog.Forget(appSubsystem(ns))

		k.log.Info("namespace reclaimed",
			zap.Uint64("namespace", ns.Uint64()),
			zap.Int("layers", layers),
			zap.Int("entities", entities))
	}
	return len(dead)
}

// UnloadApp removes an app on request and reclaims everything its
// namespace owns, without waiting for the supervisor to give up.
func (k *Kernel) UnloadApp(appID id.AppID) error {
	ns, err := k.apps.Unload(appID)
	if err != nil {
		return err
	}
	k.layers.DestroyNamespaceLayers(ns)
	k.world.DestroyNamespace(ns)
	k.bus.Unregister(ns)
	k.dog.Forget(appSubsystem(ns))
	return nil
}

// BuildRenderGraph assembles the per-frame compositing input from the
// visible layer set.
func (k *Kernel) BuildRenderGraph() types.RenderGraph {
	k.mu.RLock()
	frame := k.frame
	k.mu.RUnlock()
	return types.RenderGraph{Frame: frame, Layers: k.layers.CollectVisible()}
}

// ResetFrameQuotas restores rate-limited quota pools. Called once per
// frame by EndFrame; exposed for hosts that drive phases manually.
func (k *Kernel) ResetFrameQuotas() {
	k.checker.ResetFrameQuotas()
}

// HealthLevel returns the watchdog's current global health level.
func (k *Kernel) HealthLevel() types.HealthLevel {
	return k.dog.HealthLevel()
}

// HealthMetrics returns per-subsystem liveness detail, nil when the
// watchdog is disabled.
func (k *Kernel) HealthMetrics() *types.HealthMetrics {
	return k.dog.Metrics()
}

// RecoveryStats returns the monotonic panic and restart counters.
func (k *Kernel) RecoveryStats() types.RecoveryStats {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.recovery
}

// NeedsEmergencyShutdown reports whether health has reached the
// terminal Dead level with no supervised namespace left to restart.
// The kernel keeps running either way; acting on it is the host's
// decision.
func (k *Kernel) NeedsEmergencyShutdown() bool {
	return k.dog.HealthLevel() == types.HealthDead && !k.tree.Recoverable()
}

// Status aggregates kernel state for observers.
func (k *Kernel) Status() types.KernelStatus {
	k.mu.RLock()
	state := k.state
	frame := k.frame
	startedAt := k.startedAt
	recovery := k.recovery
	stats := k.frameStatsLocked()
	k.mu.RUnlock()

	var uptime float64
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt).Seconds()
	}

	return types.KernelStatus{
		State:      state,
		Frame:      frame,
		Uptime:     uptime,
		Apps:       k.apps.Count(),
		Layers:     k.layers.Count(),
		Entities:   k.world.Count(),
		Health:     k.dog.HealthLevel(),
		Backend:    string(k.selector.Current()),
		FrameStats: stats,
		StartedAt:  startedAt,
		PanicCount: recovery.PanicCount,
		Recoveries: recovery.RecoveryCount,
	}
}

// frameStatsLocked summarizes the sample ring. Caller holds k.mu.
func (k *Kernel) frameStatsLocked() types.FrameStats {
	if k.sampleN == 0 {
		return types.FrameStats{}
	}
	data := make([]float64, k.sampleN)
	copy(data, k.samples[:k.sampleN])
	sort.Float64s(data)
	return types.FrameStats{
		MeanMs: stat.Mean(data, nil),
		P50Ms:  stat.Quantile(0.5, stat.Empirical, data, nil),
		P99Ms:  stat.Quantile(0.99, stat.Empirical, data, nil),
	}
}

// Apps exposes the app manager for loading and control surfaces.
func (k *Kernel) Apps() *app.Manager { return k.apps }

// Layers exposes the layer manager.
func (k *Kernel) Layers() *layer.Manager { return k.layers }

// World exposes the shared entity arena.
func (k *Kernel) World() *world.World { return k.world }

// Bus exposes the patch bus.
func (k *Kernel) Bus() *patch.Bus { return k.bus }

// GPU exposes the backend selector.
func (k *Kernel) GPU() *gpu.Selector { return k.selector }

// Metrics exposes the metrics collector.
func (k *Kernel) Metrics() *monitoring.Metrics { return k.metrics }

// Registry exposes the Prometheus registry backing Metrics.
func (k *Kernel) Registry() *prometheus.Registry { return k.registry }

// Config returns the kernel configuration the instance was built with.
func (k *Kernel) Config() config.KernelConfig { return k.cfg }

func appSubsystem(ns id.NamespaceID) string {
	return "app/" + strconv.FormatUint(ns.Uint64(), 10)
}
