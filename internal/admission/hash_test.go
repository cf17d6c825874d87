package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecisionHash_DeterministicForIdenticalInputs(t *testing.T) {
	m := cleanMetrics()
	h1 := DecisionHash(m, Go)
	h2 := DecisionHash(m, Go)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
}

func TestDecisionHash_DiffersOnOutcomeChange(t *testing.T) {
	m := cleanMetrics()
	assert.NotEqual(t, DecisionHash(m, Go), DecisionHash(m, Warning))
}

func TestDecisionHash_DiffersOnMetricChange(t *testing.T) {
	m := cleanMetrics()
	other := m
	other.P99LatencyMS += 0.000001
	assert.NotEqual(t, DecisionHash(m, Go), DecisionHash(other, Go))
}

func TestDecisionHash_IgnoresSubMicroPrecisionNoise(t *testing.T) {
	m := cleanMetrics()
	other := m
	other.P99LatencyMS += 1e-9
	assert.Equal(t, DecisionHash(m, Go), DecisionHash(other, Go))
}
