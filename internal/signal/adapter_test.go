package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type constantModel float64

func (m constantModel) Predict(Features) float64 { return float64(m) }

func TestEvaluate_BuyAboveThreshold(t *testing.T) {
	dir, confidence := Evaluate(constantModel(0.8), Features{1, 2, 3}, RiskConfig{Threshold: 0.5})
	assert.Equal(t, Buy, dir)
	assert.Equal(t, 0.8, confidence)
}

func TestEvaluate_SellBelowInverseThreshold(t *testing.T) {
	dir, _ := Evaluate(constantModel(0.1), Features{1}, RiskConfig{Threshold: 0.5})
	assert.Equal(t, Sell, dir)
}

func TestEvaluate_FlatInDeadZone(t *testing.T) {
	dir, _ := Evaluate(constantModel(0.5), Features{1}, RiskConfig{Threshold: 0.5})
	assert.Equal(t, Flat, dir)
}

func TestEvaluate_DefaultsThresholdWhenUnset(t *testing.T) {
	dir, _ := Evaluate(constantModel(0.51), Features{1}, RiskConfig{})
	assert.Equal(t, Buy, dir)
}

func TestEvaluate_IsDeterministic(t *testing.T) {
	model := WeightedModel{Weights: []float64{0.2, -0.1, 0.05}, Bias: 0.1}
	features := Features{1.5, -2.0, 3.3}

	dir1, conf1 := Evaluate(model, features, RiskConfig{Threshold: 0.5})
	dir2, conf2 := Evaluate(model, features, RiskConfig{Threshold: 0.5})

	assert.Equal(t, dir1, dir2)
	assert.Equal(t, conf1, conf2)
}

func TestPositionSize_ComputesFlooredVolume(t *testing.T) {
	cfg := RiskConfig{RiskPerTrade: 0.01, ContractSize: 100000, VolumeStep: 0.01, MaxPositionSize: 10}

	volume := PositionSize(10000, 0.0050, cfg)

	assert.InDelta(t, 0.20, volume, 1e-9)
}

func TestPositionSize_CapsAtMaxPositionSize(t *testing.T) {
	cfg := RiskConfig{RiskPerTrade: 0.5, ContractSize: 1, VolumeStep: 0.01, MaxPositionSize: 2}

	volume := PositionSize(10000, 0.01, cfg)

	assert.Equal(t, 2.0, volume)
}

func TestPositionSize_ZeroStopDistanceIsUnsizeable(t *testing.T) {
	cfg := RiskConfig{RiskPerTrade: 0.01, ContractSize: 100000, VolumeStep: 0.01}

	volume := PositionSize(10000, 0, cfg)

	assert.Equal(t, 0.0, volume)
}

func TestPositionSize_RespectsVolumeStepGranularity(t *testing.T) {
	cfg := RiskConfig{RiskPerTrade: 0.013, ContractSize: 100000, VolumeStep: 0.1}

	volume := PositionSize(10000, 0.0050, cfg)

	assert.InDelta(t, 0.2, volume, 1e-9)
}
