// Package risk tracks account-level risk state (peak equity, drawdown,
// leverage) and engages the circuit breaker on a hard-limit breach
// (spec §4.5).
package risk

import "time"

// AccountStateSnapshot is an immutable view of account risk state at a
// point in time. The monitor publishes a fresh snapshot on every update
// rather than handing out a pointer to mutable state, so readers (the
// symbol loop, the metrics aggregator) never race with the next update
// (spec §9 design note: message-flow, not back-reference).
type AccountStateSnapshot struct {
	Equity         float64
	Balance        float64
	Margin         float64
	PeakEquity     float64
	Drawdown       float64
	Leverage       float64
	Timestamp      time.Time
	DrawdownBreach bool
	LeverageBreach bool
	DrawdownWarn   bool
	LeverageWarn   bool
}
