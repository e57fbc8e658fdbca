// Package monitoring exposes kernel metrics to Prometheus and keeps a
// snapshot of current values for the JSON status API.
package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the kernel runtime.
type Metrics struct {
	// Frame metrics
	FramesTotal   prometheus.Counter
	FrameDuration prometheus.Histogram

	// Transaction metrics
	TransactionsTotal prometheus.Counter
	PatchesTotal      *prometheus.CounterVec // outcome: applied|rejected|skipped
	PatchRejections   *prometheus.CounterVec // reason

	// Resource metrics
	AppsActive    prometheus.Gauge
	LayersActive  prometheus.Gauge
	EntitiesTotal prometheus.Gauge

	// Fault metrics
	PanicsTotal   prometheus.Counter
	RestartsTotal prometheus.Counter
	HealthLevel   prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge

	Uptime    prometheus.Gauge
	startTime time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds current values for the JSON status API.
type Snapshot struct {
	Frames         uint64  `json:"frames"`
	Transactions   uint64  `json:"transactions"`
	PatchesApplied uint64  `json:"patches_applied"`
	PatchesDenied  uint64  `json:"patches_denied"`
	Panics         uint64  `json:"panics"`
	Restarts       uint64  `json:"restarts"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// New creates a metrics collector registered with its own registry so
// multiple kernels in one process never collide on metric names.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		FramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hearth_frames_total",
			Help: "Total number of completed frames",
		}),
		FrameDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hearth_frame_duration_seconds",
			Help:    "Frame duration in seconds",
			Buckets: []float64{.001, .002, .004, .008, .016, .033, .066, .1, .25, .5},
		}),

		TransactionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hearth_transactions_total",
			Help: "Total number of processed transactions",
		}),
		PatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_patches_total",
			Help: "Total number of patches by outcome",
		}, []string{"outcome"}),
		PatchRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_patch_rejections_total",
			Help: "Total number of rejected patches by reason",
		}, []string{"reason"}),

		AppsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hearth_apps_active",
			Help: "Number of loaded apps",
		}),
		LayersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hearth_layers_active",
			Help: "Number of live render layers",
		}),
		EntitiesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hearth_entities_total",
			Help: "Number of live world entities",
		}),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hearth_panics_total",
			Help: "Panics recovered at the app call-out boundary",
		}),
		RestartsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hearth_restarts_total",
			Help: "Supervisor-driven app restarts",
		}),
		HealthLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hearth_health_level",
			Help: "Watchdog health level (0 healthy .. 3 dead)",
		}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hearth_ws_connections",
			Help: "Active WebSocket observers",
		}),
		Uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hearth_uptime_seconds",
			Help: "Kernel uptime in seconds",
		}),
	}
	return m, reg
}

// RecordFrame records a completed frame and its duration.
func (m *Metrics) RecordFrame(d time.Duration) {
	m.FramesTotal.Inc()
	m.FrameDuration.Observe(d.Seconds())
	m.Uptime.Set(time.Since(m.startTime).Seconds())

	m.mu.Lock()
	m.snapshot.Frames++
	m.snapshot.UptimeSeconds = time.Since(m.startTime).Seconds()
	m.mu.Unlock()
}

// RecordPatch records one patch outcome.
func (m *Metrics) RecordPatch(outcome, reason string) {
	m.PatchesTotal.WithLabelValues(outcome).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if outcome == "applied" {
		m.snapshot.PatchesApplied++
		return
	}
	m.snapshot.PatchesDenied++
	if reason != "" {
		m.PatchRejections.WithLabelValues(reason).Inc()
	}
}

// RecordTransaction records one processed transaction.
func (m *Metrics) RecordTransaction() {
	m.TransactionsTotal.Inc()

	m.mu.Lock()
	m.snapshot.Transactions++
	m.mu.Unlock()
}

// RecordPanic records a recovered app panic.
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()

	m.mu.Lock()
	m.snapshot.Panics++
	m.mu.Unlock()
}

// RecordRestart records a supervisor restart.
func (m *Metrics) RecordRestart() {
	m.RestartsTotal.Inc()

	m.mu.Lock()
	m.snapshot.Restarts++
	m.mu.Unlock()
}

// GetSnapshot returns current metric values for the JSON API.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
