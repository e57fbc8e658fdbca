package watchdog

import (
	"testing"
	"time"

	"github.com/hearth-engine/hearth/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock steps time manually so grading is deterministic.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestWatchdog(enabled bool) (*Watchdog, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	w := New(Config{
		HeartbeatTimeout: 100 * time.Millisecond,
		CheckInterval:    10 * time.Millisecond,
		Enabled:          enabled,
	}).WithClock(clock.now)
	return w, clock
}

func TestDisabledAlwaysHealthy(t *testing.T) {
	w, _ := newTestWatchdog(false)

	w.Heartbeat("sim")
	assert.Equal(t, types.HealthHealthy, w.Check(1))
	assert.Equal(t, types.HealthHealthy, w.HealthLevel())
	assert.Nil(t, w.Metrics())
}

func TestHealthDegradation(t *testing.T) {
	w, clock := newTestWatchdog(true)
	w.Heartbeat("sim")

	tests := []struct {
		advance time.Duration
		want    types.HealthLevel
	}{
		{50 * time.Millisecond, types.HealthHealthy},
		{100 * time.Millisecond, types.HealthDegraded}, // 150ms total
		{100 * time.Millisecond, types.HealthCritical}, // 250ms
		{200 * time.Millisecond, types.HealthDead},     // 450ms
	}

	for i, tt := range tests {
		clock.advance(tt.advance)
		assert.Equal(t, tt.want, w.Check(uint64(i+1)), "step %d", i)
	}
}

func TestHeartbeatRecovers(t *testing.T) {
	w, clock := newTestWatchdog(true)
	w.Heartbeat("sim")

	clock.advance(150 * time.Millisecond)
	require.Equal(t, types.HealthDegraded, w.Check(1))

	w.Heartbeat("sim")
	clock.advance(10 * time.Millisecond)
	assert.Equal(t, types.HealthHealthy, w.Check(2))
}

func TestGlobalLevelIsWorstSubsystem(t *testing.T) {
	w, clock := newTestWatchdog(true)
	w.Heartbeat("sim")
	clock.advance(150 * time.Millisecond)
	w.Heartbeat("render")

	clock.advance(10 * time.Millisecond)
	assert.Equal(t, types.HealthDegraded, w.Check(1))

	m := w.Metrics()
	require.NotNil(t, m)
	assert.Equal(t, types.HealthDegraded, m.Subsystems["sim"])
	assert.Equal(t, types.HealthHealthy, m.Subsystems["render"])
	assert.Equal(t, 1, m.MissedBeats["sim"])
}

func TestCheckIntervalGate(t *testing.T) {
	w, clock := newTestWatchdog(true)
	w.Heartbeat("sim")

	clock.advance(20 * time.Millisecond)
	w.Check(1)

	// Within the interval the previous grades are reused.
	clock.advance(5 * time.Millisecond)
	assert.Equal(t, types.HealthHealthy, w.Check(2))
}

func TestForget(t *testing.T) {
	w, clock := newTestWatchdog(true)
	w.Heartbeat("gone")
	clock.advance(time.Second)

	w.Forget("gone")
	assert.Equal(t, types.HealthHealthy, w.Check(1))
}
