// Package resilience guards app call-outs with a frame-driven circuit
// breaker. Unlike a wall-clock breaker, cooldowns are counted in frames
// so behavior is deterministic under test and independent of frame rate
// spikes.
package resilience

import (
	"errors"
	"sync"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures breaker behavior.
type Settings struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int
	// CooldownFrames is how many frames the circuit stays open before
	// probing with a half-open call.
	CooldownFrames uint64
	// OnStateChange is called whenever the state changes.
	OnStateChange func(name string, from, to State)
}

// DefaultSettings trips after 3 consecutive failures and cools down for
// 60 frames.
func DefaultSettings() Settings {
	return Settings{FailureThreshold: 3, CooldownFrames: 60}
}

// Breaker implements a per-app circuit breaker over frame call-outs.
type Breaker struct {
	name     string
	settings Settings

	mu           sync.Mutex
	state        State
	consecutive  int
	openedFrame  uint64
	totalTrips   uint64
	totalFails   uint64
	totalSuccess uint64
}

// New creates a breaker with the given settings.
func New(name string, settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 3
	}
	if settings.CooldownFrames == 0 {
		settings.CooldownFrames = 60
	}
	return &Breaker{name: name, settings: settings}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state as of the given frame.
func (b *Breaker) State(frame uint64) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(frame)
}

// Allow reports whether a call-out may run this frame. An open breaker
// rejects until its cooldown elapses, then admits one probe call.
func (b *Breaker) Allow(frame uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.currentState(frame) == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Record reports the outcome of an admitted call-out.
func (b *Breaker) Record(frame uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState(frame)
	if success {
		b.totalSuccess++
		b.consecutive = 0
		if state == StateHalfOpen {
			b.setState(StateClosed, frame)
		}
		return
	}

	b.totalFails++
	b.consecutive++
	if state == StateHalfOpen || b.consecutive >= b.settings.FailureThreshold {
		b.setState(StateOpen, frame)
	}
}

// Trips returns how many times the circuit has opened.
func (b *Breaker) Trips() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalTrips
}

// currentState resolves open→half-open once the cooldown has elapsed.
// Caller holds the lock.
func (b *Breaker) currentState(frame uint64) State {
	if b.state == StateOpen && frame >= b.openedFrame+b.settings.CooldownFrames {
		b.setState(StateHalfOpen, frame)
	}
	return b.state
}

func (b *Breaker) setState(state State, frame uint64) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state

	switch state {
	case StateOpen:
		b.openedFrame = frame
		b.totalTrips++
	case StateClosed:
		b.consecutive = 0
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, state)
	}
}
