// Package watchdog tracks per-subsystem heartbeats and derives a global
// health level. Timeouts are diagnostic only: they degrade reported
// health, they never cancel work. Emergency shutdown is a separate,
// explicit escalation the kernel decides on.
package watchdog

import (
	"sync"
	"time"

	"github.com/hearth-engine/hearth/internal/shared/types"
)

// Config tunes heartbeat evaluation.
type Config struct {
	HeartbeatTimeout time.Duration
	CheckInterval    time.Duration
	Enabled          bool
}

// DefaultConfig returns production heartbeat settings.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 500 * time.Millisecond,
		CheckInterval:    100 * time.Millisecond,
		Enabled:          true,
	}
}

type beat struct {
	last   time.Time
	missed int
	level  types.HealthLevel
}

// Watchdog receives heartbeats each frame and grades subsystem liveness.
type Watchdog struct {
	mu        sync.RWMutex
	cfg       Config
	beats     map[string]*beat
	lastCheck time.Time
	lastFrame uint64
	now       func() time.Time
}

// New creates a watchdog. A disabled watchdog always reports Healthy
// and returns no metrics.
func New(cfg Config) *Watchdog {
	return &Watchdog{
		cfg:   cfg,
		beats: make(map[string]*beat),
		now:   time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (w *Watchdog) WithClock(now func() time.Time) *Watchdog {
	w.now = now
	return w
}

// Enabled reports whether heartbeat evaluation is on.
func (w *Watchdog) Enabled() bool {
	return w.cfg.Enabled
}

// Heartbeat records liveness for a subsystem and resets its grade.
func (w *Watchdog) Heartbeat(subsystem string) {
	if !w.cfg.Enabled {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.beats[subsystem]
	if !ok {
		b = &beat{}
		w.beats[subsystem] = b
	}
	b.last = w.now()
	b.level = types.HealthHealthy
}

// Check re-grades every subsystem if the check interval has elapsed.
// Grading is strictly ordered: one missed timeout window degrades, two
// make it critical, four are terminal.
func (w *Watchdog) Check(frame uint64) types.HealthLevel {
	if !w.cfg.Enabled {
		return types.HealthHealthy
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if !w.lastCheck.IsZero() && now.Sub(w.lastCheck) < w.cfg.CheckInterval {
		return w.worstLocked()
	}
	w.lastCheck = now
	w.lastFrame = frame

	for _, b := range w.beats {
		elapsed := now.Sub(b.last)
		switch {
		case elapsed < w.cfg.HeartbeatTimeout:
			b.level = types.HealthHealthy
		case elapsed < 2*w.cfg.HeartbeatTimeout:
			b.level = types.HealthDegraded
			b.missed++
		case elapsed < 4*w.cfg.HeartbeatTimeout:
			b.level = types.HealthCritical
			b.missed++
		default:
			b.level = types.HealthDead
			b.missed++
		}
	}
	return w.worstLocked()
}

// HealthLevel returns the current global health without re-grading.
func (w *Watchdog) HealthLevel() types.HealthLevel {
	if !w.cfg.Enabled {
		return types.HealthHealthy
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.worstLocked()
}

// worstLocked derives the global level as the worst subsystem grade.
func (w *Watchdog) worstLocked() types.HealthLevel {
	level := types.HealthHealthy
	for _, b := range w.beats {
		if b.level.Worse(level) {
			level = b.level
		}
	}
	return level
}

// Metrics returns per-subsystem observations, nil when disabled.
func (w *Watchdog) Metrics() *types.HealthMetrics {
	if !w.cfg.Enabled {
		return nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	m := &types.HealthMetrics{
		Level:          w.worstLocked(),
		Subsystems:     make(map[string]types.HealthLevel, len(w.beats)),
		MissedBeats:    make(map[string]int, len(w.beats)),
		LastCheckFrame: w.lastFrame,
	}
	for name, b := range w.beats {
		m.Subsystems[name] = b.level
		m.MissedBeats[name] = b.missed
	}
	return m
}

// Forget drops a subsystem from evaluation, e.g. when its app unloads.
func (w *Watchdog) Forget(subsystem string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.beats, subsystem)
}
