package admission

import (
	"fmt"
	"time"
)

// Builder assembles a Decision field by field rather than through a long
// positional constructor, per the spec's "builder vs constructor" design
// note (§9: "the Admission Engine's decision object has ~10 optional
// fields"). Build validates that the pieces a re-run needs to verify the
// hash (Metrics and Outcome) were actually supplied.
type Builder struct {
	metrics             Metrics
	outcome             Outcome
	confidence          float64
	reasons             []string
	positionCoefficient float64
	haveMetrics         bool
}

// NewBuilder starts a Decision build from a computed Metrics/Outcome pair.
func NewBuilder(m Metrics, outcome Outcome, confidence float64, reasons []string) *Builder {
	return &Builder{
		metrics:     m,
		outcome:     outcome,
		confidence:  confidence,
		reasons:     reasons,
		haveMetrics: true,
	}
}

// WithPositionCoefficient sets the initial sizing coefficient the Launcher
// (C15) will seed into the Signal Adapter on a GO decision (spec §4.15 step
// 5). Optional; zero value means "caller decides at launch time."
func (b *Builder) WithPositionCoefficient(c float64) *Builder {
	b.positionCoefficient = c
	return b
}

// Build validates and produces the immutable Decision, stamping the
// decision hash over the metrics/outcome pair.
func (b *Builder) Build() (Decision, error) {
	if !b.haveMetrics {
		return Decision{}, fmt.Errorf("admission decision: metrics not set, use NewBuilder")
	}

	return Decision{
		Timestamp:           time.Now().UTC(),
		Decision:            b.outcome,
		ApprovalConfidence:  b.confidence,
		CriticalErrors:      b.metrics.CriticalLatencyCount,
		P95LatencyMS:        b.metrics.P95LatencyMS,
		P99LatencyMS:        b.metrics.P99LatencyMS,
		DriftEvents24h:      b.metrics.DriftEvents24h,
		PnLNetReturn:        b.metrics.PnLNetReturn,
		DiversityIndex:      b.metrics.DiversityIndex,
		ChallengerF1:        b.metrics.ChallengerF1,
		RejectionReasons:    b.reasons,
		DecisionHash:        DecisionHash(b.metrics, b.outcome),
		PositionCoefficient: b.positionCoefficient,
	}, nil
}
