// Package marketdata subscribes to per-symbol tick streams over NATS and
// hands the symbol loop a bounded, lossy-tolerant view of the latest ticks
// (spec §4.3).
package marketdata

import "time"

// Tick is a single price update for one symbol.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the midpoint price.
func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }
