package types

// HealthLevel is the watchdog's derived severity ranking,
// strictly ordered Healthy > Degraded > Critical > Dead.
type HealthLevel int

const (
	HealthHealthy HealthLevel = iota
	HealthDegraded
	HealthCritical
	HealthDead
)

// String returns the string representation of the health level.
func (h HealthLevel) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthCritical:
		return "critical"
	case HealthDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Worse reports whether h is a more severe level than other.
func (h HealthLevel) Worse(other HealthLevel) bool {
	return h > other
}

// MarshalJSON encodes the level as its string form.
func (h HealthLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// HealthMetrics reports per-subsystem liveness observations.
type HealthMetrics struct {
	Level          HealthLevel            `json:"level"`
	Subsystems     map[string]HealthLevel `json:"subsystems"`
	MissedBeats    map[string]int         `json:"missed_beats"`
	LastCheckFrame uint64                 `json:"last_check_frame"`
}

// RecoveryStats counts panics caught at the app boundary and
// supervisor-driven restarts. Both are monotonically non-decreasing
// over the kernel's lifetime.
type RecoveryStats struct {
	PanicCount    uint64 `json:"panic_count"`
	RecoveryCount uint64 `json:"recovery_count"`
}
