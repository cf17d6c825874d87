package risk

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luzhengheng/MT5-sub005/internal/alerts"
	"github.com/luzhengheng/MT5-sub005/internal/breaker"
)

// Limits holds the account-level hard limits and their non-fatal warning
// thresholds (spec §3, §4.5, §4.4 Risk Config). Each warning threshold must
// be strictly below its hard limit.
type Limits struct {
	MaxDrawdown     float64
	DrawdownWarning float64
	MaxLeverage     float64
	LeverageWarning float64
}

// Monitor tracks peak equity across the account lifetime and evaluates each
// new account update against the configured hard limits, engaging the
// durable circuit breaker on breach.
type Monitor struct {
	mu         sync.RWMutex
	limits     Limits
	peakEquity float64
	latest     AccountStateSnapshot
	hasLatest  bool

	durable *breaker.Manager
	log     zerolog.Logger

	subscribers []chan AccountStateSnapshot
}

// NewMonitor constructs a Monitor with the given hard limits.
func NewMonitor(limits Limits, durable *breaker.Manager, log zerolog.Logger) *Monitor {
	return &Monitor{
		limits:  limits,
		durable: durable,
		log:     log.With().Str("component", "risk_monitor").Logger(),
	}
}

// Update folds a new account reading into peak-equity tracking, computes
// drawdown and leverage (spec §4.5's calculateDrawdown idiom: peak tracked
// across the whole series, current drawdown measured against that peak),
// and engages the breaker if either hard limit is breached.
func (m *Monitor) Update(ctx context.Context, equity, balance, margin float64) AccountStateSnapshot {
	m.mu.Lock()

	if equity > m.peakEquity {
		m.peakEquity = equity
	}

	var drawdown float64
	if m.peakEquity > 0 && equity < m.peakEquity {
		drawdown = (m.peakEquity - equity) / m.peakEquity
	}

	var leverage float64
	if equity > 0 {
		leverage = margin / equity
	}

	drawdownBreach := drawdown >= m.limits.MaxDrawdown
	leverageBreach := leverage >= m.limits.MaxLeverage

	snap := AccountStateSnapshot{
		Equity:         equity,
		Balance:        balance,
		Margin:         margin,
		PeakEquity:     m.peakEquity,
		Drawdown:       drawdown,
		Leverage:       leverage,
		Timestamp:      time.Now().UTC(),
		DrawdownBreach: drawdownBreach,
		LeverageBreach: leverageBreach,
		// A single update crossing both warning and hard for the same sensor
		// engages the breaker only; the warning is not emitted (spec §4.5).
		DrawdownWarn: !drawdownBreach && drawdown >= m.limits.DrawdownWarning,
		LeverageWarn: !leverageBreach && leverage >= m.limits.LeverageWarning,
	}
	m.latest = snap
	m.hasLatest = true
	subscribers := append([]chan AccountStateSnapshot(nil), m.subscribers...)
	m.mu.Unlock()

	if snap.DrawdownBreach {
		alerts.RiskBreach(ctx, "drawdown", drawdown, m.limits.MaxDrawdown)
		_ = m.durable.Engage("CRITICAL_DRAWDOWN", map[string]string{
			"drawdown": formatFloat(drawdown),
			"limit":    formatFloat(m.limits.MaxDrawdown),
		})
	} else if snap.DrawdownWarn {
		alerts.RiskWarning(ctx, "drawdown", drawdown, m.limits.DrawdownWarning)
	}
	if snap.LeverageBreach {
		alerts.RiskBreach(ctx, "leverage", leverage, m.limits.MaxLeverage)
		_ = m.durable.Engage("LEVERAGE_BREACH", map[string]string{
			"leverage": formatFloat(leverage),
			"limit":    formatFloat(m.limits.MaxLeverage),
		})
	} else if snap.LeverageWarn {
		alerts.RiskWarning(ctx, "leverage", leverage, m.limits.LeverageWarning)
	}

	for _, ch := range subscribers {
		select {
		case ch <- snap:
		default:
			m.log.Warn().Msg("risk snapshot subscriber channel full, dropping update")
		}
	}

	return snap
}

// Latest returns the most recent snapshot, if any.
func (m *Monitor) Latest() (AccountStateSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasLatest
}

// Subscribe registers a channel that receives every future snapshot. The
// channel is buffered by the caller; a full channel drops the update rather
// than blocking the monitor (spec §9: risk monitor never back-references a
// symbol loop, it only publishes forward).
func (m *Monitor) Subscribe(ch chan AccountStateSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, ch)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
