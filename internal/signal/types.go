// Package signal turns a feature snapshot into a sized order intent through
// a pure, deterministic function (spec §4.8). It performs no I/O: the model
// score, the threshold decision, and the position-sizing arithmetic are all
// plain computation over their inputs.
package signal

import "time"

// Direction is the adapter's directional call.
type Direction int

const (
	Sell Direction = -1
	Flat Direction = 0
	Buy  Direction = 1
)

// Features is the dense feature vector handed to a Model.
type Features []float64

// Model is the small capability a prediction source must fulfill: trained
// model, heuristic, or shadow-replayer all implement the same `predict`
// surface (spec §9 design note — a small interface over concrete variants
// rather than an inheritance tree).
type Model interface {
	Predict(features Features) float64
}

// RiskConfig carries the sizing inputs the adapter needs, independent of any
// account-state mutation (C5 owns that).
type RiskConfig struct {
	RiskPerTrade    float64
	ContractSize    float64
	VolumeStep      float64
	MaxPositionSize float64
	Threshold       float64 // θ; default 0.5

	// PositionCoefficient scales every sized volume, seeded by the Launcher
	// (C15) from the admission decision's approved sizing (spec §4.15 step
	// 5, e.g. 0.1 for a first canary). Zero or negative is treated as 1.0
	// (no scaling) so callers that never set it keep prior behavior.
	PositionCoefficient float64
}

// Record is the immutable signal the adapter emits, recorded by C12 and
// consumed by C9 (spec §4 "Signal record").
type Record struct {
	ID              uint64
	Symbol          string
	Direction       Direction
	Price           float64
	Confidence      float64
	TimestampSignal time.Time
	TimestampLog    time.Time
}

// OrderIntent is the sized order the adapter produces for a non-flat signal
// (spec §4 "Order intent").
type OrderIntent struct {
	Symbol         string
	Side           string // "BUY" or "SELL"
	Volume         float64
	StopLoss       float64
	TakeProfit     float64
	MagicNumber    int64
	ClientOrderID  string
}
