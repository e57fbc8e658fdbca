// Package gpu negotiates which GPU backend is active, independent of
// any one app. Selection is pure: given the same available-backend map
// and strategy, Reselect always picks the same backend.
package gpu

import (
	"sync"
)

// Backend is a selectable GPU execution target.
type Backend string

const (
	Vulkan   Backend = "vulkan"
	Metal    Backend = "metal"
	DX12     Backend = "dx12"
	OpenGL   Backend = "opengl"
	WebGPU   Backend = "webgpu"
	Software Backend = "software"
)

// preferenceOrder is the fixed walk order for BestAvailable:
// native GPU first, browser fallback, then software.
var preferenceOrder = []Backend{Vulkan, Metal, DX12, OpenGL, WebGPU, Software}

// Capabilities describes what a backend can do. Superset checks are
// field-by-field: numeric fields compare >=, booleans require the
// candidate to have the bit when required.
type Capabilities struct {
	MaxTextureSize int  `json:"max_texture_size"`
	MaxLayers      int  `json:"max_layers"`
	ComputeShaders bool `json:"compute_shaders"`
	Instancing     bool `json:"instancing"`
	FloatTargets   bool `json:"float_targets"`
	MSAASamples    int  `json:"msaa_samples"`
}

// Supports reports whether c satisfies every requirement in req.
func (c Capabilities) Supports(req Capabilities) bool {
	if c.MaxTextureSize < req.MaxTextureSize {
		return false
	}
	if c.MaxLayers < req.MaxLayers {
		return false
	}
	if req.ComputeShaders && !c.ComputeShaders {
		return false
	}
	if req.Instancing && !c.Instancing {
		return false
	}
	if req.FloatTargets && !c.FloatTargets {
		return false
	}
	if c.MSAASamples < req.MSAASamples {
		return false
	}
	return true
}

// SoftwareCapabilities is the baseline profile every host has.
func SoftwareCapabilities() Capabilities {
	return Capabilities{
		MaxTextureSize: 4096,
		MaxLayers:      64,
		MSAASamples:    1,
	}
}

// StrategyKind discriminates selection strategies.
type StrategyKind string

const (
	BestAvailable  StrategyKind = "best_available"
	Prefer         StrategyKind = "prefer"
	Force          StrategyKind = "force"
	ByCapabilities StrategyKind = "by_capabilities"
)

// Strategy is a closed tagged variant: Target is read for Prefer/Force,
// Required for ByCapabilities.
type Strategy struct {
	Kind     StrategyKind `json:"kind"`
	Target   Backend      `json:"target,omitempty"`
	Required Capabilities `json:"required,omitempty"`
}

// Selector maintains the available-backend map and the active choice.
type Selector struct {
	mu        sync.RWMutex
	available map[Backend]Capabilities
	strategy  Strategy
	current   Backend
}

// NewSelector creates a selector over the discovered backends. The
// software backend is always present; discovery cannot remove it.
func NewSelector(available map[Backend]Capabilities) *Selector {
	m := make(map[Backend]Capabilities, len(available)+1)
	for b, caps := range available {
		m[b] = caps
	}
	if _, ok := m[Software]; !ok {
		m[Software] = SoftwareCapabilities()
	}
	s := &Selector{
		available: m,
		strategy:  Strategy{Kind: BestAvailable},
	}
	s.current = s.pick()
	return s
}

// Current returns the active backend.
func (s *Selector) Current() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CapabilitiesOf returns the capability profile of a backend.
func (s *Selector) CapabilitiesOf(b Backend) (Capabilities, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	caps, ok := s.available[b]
	return caps, ok
}

// Available returns the discovered backends in preference order.
func (s *Selector) Available() []Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Backend, 0, len(s.available))
	for _, b := range preferenceOrder {
		if _, ok := s.available[b]; ok {
			out = append(out, b)
		}
	}
	return out
}

// SetStrategy replaces the selection strategy and reselects.
func (s *Selector) SetStrategy(strategy Strategy) Backend {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.strategy = strategy
	s.current = s.pick()
	return s.current
}

// ForceBackend activates the target unconditionally if it is available.
// Returns false, leaving the current backend untouched, when it is not.
func (s *Selector) ForceBackend(b Backend) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.available[b]; !ok {
		return false
	}
	s.strategy = Strategy{Kind: Force, Target: b}
	s.current = b
	return true
}

// Reselect re-runs selection against the current map and strategy.
func (s *Selector) Reselect() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = s.pick()
	return s.current
}

// pick resolves the strategy. Caller holds the lock. Every path falls
// back to Software, which is always available, so pick never fails.
func (s *Selector) pick() Backend {
	switch s.strategy.Kind {
	case Prefer:
		if _, ok := s.available[s.strategy.Target]; ok {
			return s.strategy.Target
		}
		return s.best()
	case Force:
		if _, ok := s.available[s.strategy.Target]; ok {
			return s.strategy.Target
		}
		return s.best()
	case ByCapabilities:
		for _, b := range preferenceOrder {
			if caps, ok := s.available[b]; ok && caps.Supports(s.strategy.Required) {
				return b
			}
		}
		return Software
	default:
		return s.best()
	}
}

// best walks the fixed preference order and picks the first available.
func (s *Selector) best() Backend {
	for _, b := range preferenceOrder {
		if _, ok := s.available[b]; ok {
			return b
		}
	}
	return Software
}
