package metrics

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// SymbolMetrics is one symbol's rolled-up trading activity.
type SymbolMetrics struct {
	Symbol     string
	PnL        float64
	Exposure   float64
	Volume     float64
	TradeCount int
}

// AggregateMetrics is the process-wide rollup returned by
// Aggregator.GetAggregateMetrics (spec §4.11).
type AggregateMetrics struct {
	TotalPnL      float64
	TotalExposure float64
	PerSymbol     map[string]SymbolMetrics
}

// Aggregator is C11: a process-wide rollup of PnL and exposure across
// symbols, guarded by a single lock (spec §4.11). Mutations and reads never
// perform I/O while the lock is held; reads return a deep copy.
type Aggregator struct {
	log zerolog.Logger

	mu      sync.Mutex
	symbols map[string]SymbolMetrics
}

// NewAggregator constructs an empty Aggregator.
func NewAggregator(log zerolog.Logger) *Aggregator {
	return &Aggregator{
		log:     log.With().Str("component", "aggregator").Logger(),
		symbols: make(map[string]SymbolMetrics),
	}
}

// RecordTrade folds a completed trade's PnL and volume into a symbol's
// running totals. Zero-trust validation (spec §4.11): non-finite numbers,
// negative volume, and an empty symbol are rejected rather than normalized.
func (a *Aggregator) RecordTrade(symbol string, pnl, volume float64) error {
	if symbol == "" {
		return fmt.Errorf("record trade: empty symbol")
	}
	if !isFinite(pnl) {
		return fmt.Errorf("record trade: non-finite pnl %v for %s", pnl, symbol)
	}
	if !isFinite(volume) || volume < 0 {
		return fmt.Errorf("record trade: invalid volume %v for %s", volume, symbol)
	}

	a.mu.Lock()
	m := a.symbols[symbol]
	m.Symbol = symbol
	m.PnL += pnl
	m.Volume += volume
	m.TradeCount++
	a.symbols[symbol] = m
	a.mu.Unlock()

	RecordTrade(pnl)
	PnLBySymbol.WithLabelValues(symbol).Set(m.PnL)
	return nil
}

// setExposure validates and overwrites a symbol's point-in-time exposure.
func (a *Aggregator) setExposure(symbol string, exposureValue float64) error {
	if symbol == "" {
		return fmt.Errorf("update exposure: empty symbol")
	}
	if !isFinite(exposureValue) || exposureValue < 0 {
		return fmt.Errorf("update exposure: invalid value %v for %s", exposureValue, symbol)
	}

	a.mu.Lock()
	m := a.symbols[symbol]
	m.Symbol = symbol
	m.Exposure = exposureValue
	a.symbols[symbol] = m
	a.mu.Unlock()

	UpdatePositionValue(symbol, exposureValue)
	return nil
}

// UpdateExposure implements symbolloop.ExposureReporter. C9 is an internal,
// trusted caller and the interface carries no error return, so a rejected
// update is logged and dropped rather than propagated.
func (a *Aggregator) UpdateExposure(symbol string, exposureValue float64) {
	if err := a.setExposure(symbol, exposureValue); err != nil {
		a.log.Warn().Err(err).Str("symbol", symbol).Msg("dropped invalid exposure update")
	}
}

// RecordFill implements symbolloop.ExposureReporter: a fill's realized
// commission/swap is booked as a zero-volume trade against the symbol's PnL.
func (a *Aggregator) RecordFill(symbol string, profit float64) {
	if err := a.RecordTrade(symbol, profit, 0); err != nil {
		a.log.Warn().Err(err).Str("symbol", symbol).Msg("dropped invalid fill")
	}
}

// GetSymbolMetrics returns a deep copy of one symbol's metrics, or false if
// the symbol has never been recorded.
func (a *Aggregator) GetSymbolMetrics(symbol string) (SymbolMetrics, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.symbols[symbol]
	return m, ok
}

// GetAggregateMetrics returns process-wide totals plus a deep copy of every
// symbol's metrics.
func (a *Aggregator) GetAggregateMetrics() AggregateMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := AggregateMetrics{PerSymbol: make(map[string]SymbolMetrics, len(a.symbols))}
	for symbol, m := range a.symbols {
		out.TotalPnL += m.PnL
		out.TotalExposure += m.Exposure
		out.PerSymbol[symbol] = m
	}
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
