// Package admission implements C13: from a window of shadow records and a
// model-comparison report, emit a GO / NO-GO / WARNING decision and a
// deterministic hash over its inputs (spec §4.13).
package admission

import "time"

// Outcome is the engine's three-valued decision.
type Outcome string

const (
	Go      Outcome = "GO"
	NoGo    Outcome = "NO-GO"
	Warning Outcome = "WARNING"
)

// ShadowRecord is the subset of a C12 shadow record the engine needs to
// derive its metrics: latency (timestamp_log - timestamp_signal), the
// directional signal, and the recorded price for the PnL simulation.
type ShadowRecord struct {
	ID              uint64
	Symbol          string
	Signal          int // -1/0/1, mirrors signal.Direction
	Price           float64
	TimestampSignal time.Time
	TimestampLog    time.Time
}

// ComparisonReport is the external model-comparison input (spec §4.13).
type ComparisonReport struct {
	BaselineF1      float64
	ChallengerF1    float64
	DiversityIndex  float64
	ConsistencyRate float64
}

// Metrics is the full set of derived values the decision rules and the hash
// are computed over (spec §4.13).
type Metrics struct {
	P95LatencyMS         float64
	P99LatencyMS         float64
	CriticalLatencyCount int
	DriftEvents24h       int
	PnLNetReturn         float64
	DiversityIndex       float64
	ChallengerF1         float64
}

// Decision is the admission artifact's in-memory form (spec §6 "Admission
// artifact"). Built via Builder rather than a long positional constructor,
// per the "builder vs constructor" design note (spec §9).
type Decision struct {
	Timestamp           time.Time `json:"timestamp"`
	Decision            Outcome   `json:"decision"`
	ApprovalConfidence  float64   `json:"approval_confidence"`
	CriticalErrors      int       `json:"critical_errors"`
	P95LatencyMS        float64   `json:"p95_latency_ms"`
	P99LatencyMS        float64   `json:"p99_latency_ms"`
	DriftEvents24h      int       `json:"drift_events_24h"`
	PnLNetReturn        float64   `json:"pnl_net_return"`
	DiversityIndex      float64   `json:"diversity_index"`
	ChallengerF1        float64   `json:"challenger_f1"`
	RejectionReasons    []string  `json:"rejection_reasons"`
	DecisionHash        string    `json:"decision_hash"`
	PositionCoefficient float64   `json:"position_coefficient"`
}
