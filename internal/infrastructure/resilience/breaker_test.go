package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("app-1", Settings{FailureThreshold: 3, CooldownFrames: 10})

	for frame := uint64(1); frame <= 2; frame++ {
		require.NoError(t, b.Allow(frame))
		b.Record(frame, false)
	}
	assert.Equal(t, StateClosed, b.State(2))

	require.NoError(t, b.Allow(3))
	b.Record(3, false)
	assert.Equal(t, StateOpen, b.State(3))
	assert.ErrorIs(t, b.Allow(4), ErrCircuitOpen)
	assert.Equal(t, uint64(1), b.Trips())
}

func TestSuccessResetsCount(t *testing.T) {
	b := New("app-1", Settings{FailureThreshold: 2, CooldownFrames: 10})

	b.Record(1, false)
	b.Record(2, true)
	b.Record(3, false)
	assert.Equal(t, StateClosed, b.State(3))
}

func TestHalfOpenProbe(t *testing.T) {
	b := New("app-1", Settings{FailureThreshold: 1, CooldownFrames: 5})

	b.Record(1, false)
	require.Equal(t, StateOpen, b.State(1))
	assert.ErrorIs(t, b.Allow(3), ErrCircuitOpen)

	// Cooldown elapsed at frame 6: one probe is admitted.
	require.NoError(t, b.Allow(6))
	assert.Equal(t, StateHalfOpen, b.State(6))

	b.Record(6, true)
	assert.Equal(t, StateClosed, b.State(6))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New("app-1", Settings{FailureThreshold: 1, CooldownFrames: 5})

	b.Record(1, false)
	require.NoError(t, b.Allow(6))
	b.Record(6, false)

	assert.Equal(t, StateOpen, b.State(6))
	assert.ErrorIs(t, b.Allow(7), ErrCircuitOpen)
	assert.Equal(t, uint64(2), b.Trips())
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New("app-1", Settings{
		FailureThreshold: 1,
		CooldownFrames:   2,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	b.Record(1, false)
	b.State(3) // cooldown elapsed, probes half-open
	b.Record(3, true)

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}
