package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func cleanMetrics() Metrics {
	return Metrics{
		P95LatencyMS:         30,
		P99LatencyMS:         60,
		CriticalLatencyCount: 0,
		DriftEvents24h:       1,
		PnLNetReturn:         0.01,
		DiversityIndex:       0.6,
		ChallengerF1:         0.7,
	}
}

func TestDecide_CleanMetricsIsGo(t *testing.T) {
	outcome, confidence, reasons := Decide(cleanMetrics())
	assert.Equal(t, Go, outcome)
	assert.Equal(t, 1.0, confidence)
	assert.Empty(t, reasons)
}

func TestDecide_CriticalLatencyForcesNoGo(t *testing.T) {
	m := cleanMetrics()
	m.CriticalLatencyCount = 3
	outcome, _, reasons := Decide(m)
	assert.Equal(t, NoGo, outcome)
	assert.Contains(t, reasons, "Critical latency event detected")
}

func TestDecide_NoGoDominatesOverWarnings(t *testing.T) {
	m := cleanMetrics()
	m.CriticalLatencyCount = 1
	m.ChallengerF1 = 0.2  // also fails a warning rule
	m.DiversityIndex = 0.1 // also fails a warning rule
	outcome, confidence, reasons := Decide(m)
	assert.Equal(t, NoGo, outcome)
	assert.Equal(t, 1.0, confidence)
	assert.Len(t, reasons, 3)
}

func TestDecide_SingleWarningScalesConfidenceDown(t *testing.T) {
	m := cleanMetrics()
	m.ChallengerF1 = 0.2
	outcome, confidence, reasons := Decide(m)
	assert.Equal(t, Warning, outcome)
	assert.InDelta(t, 0.85, confidence, 1e-9)
	assert.Equal(t, []string{"Challenger F1 score below minimum"}, reasons)
}

func TestDecide_TwoWarningsScaleConfidenceFurther(t *testing.T) {
	m := cleanMetrics()
	m.ChallengerF1 = 0.2
	m.DiversityIndex = 0.1
	outcome, confidence, _ := Decide(m)
	assert.Equal(t, Warning, outcome)
	assert.InDelta(t, 0.70, confidence, 1e-9)
}

func TestDecide_P99AtBoundaryFails(t *testing.T) {
	m := cleanMetrics()
	m.P99LatencyMS = 100
	outcome, _, reasons := Decide(m)
	assert.Equal(t, NoGo, outcome)
	assert.Contains(t, reasons, "P99 latency exceeds 100ms")
}

func TestDecide_DriftEventsAtBoundaryFails(t *testing.T) {
	m := cleanMetrics()
	m.DriftEvents24h = 5
	outcome, _, reasons := Decide(m)
	assert.Equal(t, NoGo, outcome)
	assert.Contains(t, reasons, "Drift event count exceeds daily maximum")
}

func TestDecide_ConfidenceStaysWithinUnitInterval(t *testing.T) {
	m := cleanMetrics()
	m.ChallengerF1 = 0.1
	m.DiversityIndex = 0.05
	// both WARNING rules fail; their combined weight does not reach zero,
	// so assert the confidence stays within [0,1] bounds.
	_, confidence, _ := Decide(m)
	assert.GreaterOrEqual(t, confidence, 0.0)
	assert.LessOrEqual(t, confidence, 1.0)
}
