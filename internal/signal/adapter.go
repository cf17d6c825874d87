package signal

import "math"

// DefaultThreshold is θ from spec §4.8: score > θ calls a buy, score < 1-θ
// calls a sell, otherwise the adapter stays flat.
const DefaultThreshold = 0.5

// Evaluate runs the model against features and classifies the result into a
// direction using θ (spec §4.8 "Threshold"). confidence is the raw model
// score, clamped into [0,1] for the emitted Record.
func Evaluate(model Model, features Features, cfg RiskConfig) (Direction, float64) {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	score := model.Predict(features)
	confidence := clamp01(score)

	switch {
	case score > threshold:
		return Buy, confidence
	case score < 1-threshold:
		return Sell, confidence
	default:
		return Flat, confidence
	}
}

// PositionSize computes the order volume for a non-flat signal:
//
//	volume = floor((balance * risk_per_trade) / (stop_distance * contract_size), volume_step)
//
// capped at max_position_size (spec §4.8). stopDistance is the price
// distance to the protective stop, in price units; it
// must be positive or the position is unsizeable and PositionSize returns 0.
func PositionSize(balance, stopDistance float64, cfg RiskConfig) float64 {
	if stopDistance <= 0 || cfg.ContractSize <= 0 {
		return 0
	}

	coefficient := cfg.PositionCoefficient
	if coefficient <= 0 {
		coefficient = 1.0
	}

	raw := coefficient * (balance * cfg.RiskPerTrade) / (stopDistance * cfg.ContractSize)
	volume := floorToStep(raw, cfg.VolumeStep)

	if cfg.MaxPositionSize > 0 && volume > cfg.MaxPositionSize {
		volume = floorToStep(cfg.MaxPositionSize, cfg.VolumeStep)
	}
	if volume < 0 {
		volume = 0
	}
	return volume
}

// floorToStep rounds v down to the nearest multiple of step. A non-positive
// step disables quantization.
func floorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step) * step
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (d Direction) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "FLAT"
	}
}
