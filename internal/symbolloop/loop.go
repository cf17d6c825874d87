package symbolloop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luzhengheng/MT5-sub005/internal/alerts"
	"github.com/luzhengheng/MT5-sub005/internal/breaker"
	"github.com/luzhengheng/MT5-sub005/internal/drift"
	"github.com/luzhengheng/MT5-sub005/internal/gateway"
	"github.com/luzhengheng/MT5-sub005/internal/marketdata"
	"github.com/luzhengheng/MT5-sub005/internal/signal"
)

// instabilityWindow and instabilityThreshold implement spec §4.9's
// "repeated failures (≥5 within 1 minute) engage C1" rule.
const (
	instabilityWindow    = time.Minute
	instabilityThreshold = 5
)

// FeatureExtractor derives a model feature vector from a tick. Pure
// function: no I/O, same tick always yields the same features.
type FeatureExtractor func(tick marketdata.Tick) signal.Features

// Recorder is C12's shadow-recording surface: every emitted signal record,
// with its order intent if any, is handed here regardless of loop mode
// (spec §4.12 "the two code paths share C8's output").
type Recorder interface {
	Record(ctx context.Context, rec signal.Record, intent *signal.OrderIntent)
}

// ExposureReporter is C11's ingestion surface for per-symbol exposure and
// fill updates.
type ExposureReporter interface {
	UpdateExposure(symbol string, exposureValue float64)
	RecordFill(symbol string, profit float64)
}

// DriftObserver is C7's ingestion surface for model confidence scores, one
// sensor per symbol so each symbol's output distribution is judged against
// its own reference window.
type DriftObserver interface {
	Observe(ctx context.Context, score float64) (drift.Reading, bool)
}

// Config wires one symbol loop's dependencies.
type Config struct {
	Symbol               string
	Gateway              gateway.Broker
	Durable              *breaker.Manager
	Model                signal.Model
	RiskConfig           signal.RiskConfig
	MaxPerSymbolExposure float64 // fraction of equity
	ContractSize         float64
	StopDistance         float64 // price distance to protective stop, in price units
	Extract              FeatureExtractor
	EquitySource         func() float64
	Recorder             Recorder
	Exposure             ExposureReporter
	Drift                DriftObserver // nil disables drift observation for this symbol
	Shadow               bool // shadow mode: signals are recorded, never submitted
	Paused               *atomic.Bool // orchestrator-controlled pause flag; nil means never paused
	Log                  zerolog.Logger
}

// Loop runs one symbol's state machine (spec §4.9).
type Loop struct {
	cfg Config
	log zerolog.Logger

	mu                sync.Mutex
	state             State
	exposureValue     float64
	failureTimestamps []time.Time

	signalSeq uint64
}

// New constructs a Loop in its initial IDLE state.
func New(cfg Config) *Loop {
	if cfg.MaxPerSymbolExposure <= 0 {
		cfg.MaxPerSymbolExposure = 1.0
	}
	return &Loop{
		cfg:   cfg,
		log:   cfg.Log.With().Str("component", "symbol_loop").Str("symbol", cfg.Symbol).Logger(),
		state: StateIdle,
	}
}

// State returns the loop's current state (for tests and status reporting).
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run drives the state machine until ctx is cancelled, the tick channel
// closes, or the loop transitions to HALT. HALT is terminal within the
// session (spec §4.9): Run returns ErrHalted.
func (l *Loop) Run(ctx context.Context, ticks <-chan marketdata.Tick) error {
	l.setState(StateWaitTick)

	for {
		if l.cfg.Durable.ShouldHalt() {
			l.setState(StateHalt)
			return ErrHalted
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			if l.cfg.Paused != nil && l.cfg.Paused.Load() {
				continue
			}
			if err := l.handleTick(ctx, tick); err == ErrHalted {
				return ErrHalted
			}
		}
	}
}

// handleTick runs one EVAL -> (SUBMIT) -> SETTLE pass for a single tick,
// catching and logging any panic inside EVAL/SUBMIT rather than letting it
// kill the loop (spec §4.9 failure semantics).
func (l *Loop) handleTick(ctx context.Context, tick marketdata.Tick) (err error) {
	l.setState(StateEval)

	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("recovered panic in symbol loop tick")
			l.recordFailure(ctx)
			l.setState(StateWaitTick)
			err = nil
		}
	}()

	rec, intent, submitErr := l.evalAndSubmit(ctx, tick)
	if submitErr != nil {
		if submitErr == errBlocked {
			l.setState(StateHalt)
			return ErrHalted
		}
		l.log.Warn().Err(submitErr).Msg("submit failed, continuing")
		l.recordFailure(ctx)
	}

	l.settle(ctx, rec, intent)
	l.setState(StateWaitTick)
	return nil
}

var errBlocked = fmt.Errorf("gateway blocked")

// ErrHalted is returned by Run once the loop transitions to HALT.
var ErrHalted = fmt.Errorf("symbol loop halted")

// evalAndSubmit implements EVAL and SUBMIT (spec §4.9).
func (l *Loop) evalAndSubmit(ctx context.Context, tick marketdata.Tick) (signal.Record, *signal.OrderIntent, error) {
	features := l.cfg.Extract(tick)
	direction, confidence := signal.Evaluate(l.cfg.Model, features, l.cfg.RiskConfig)
	if l.cfg.Drift != nil {
		l.cfg.Drift.Observe(ctx, confidence)
	}

	now := time.Now().UTC()
	rec := signal.Record{
		ID:              atomic.AddUint64(&l.signalSeq, 1),
		Symbol:          l.cfg.Symbol,
		Direction:       direction,
		Price:           tick.Mid(),
		Confidence:      confidence,
		TimestampSignal: tick.Timestamp,
		TimestampLog:    now,
	}

	if direction == signal.Flat {
		return rec, nil, nil
	}

	equity := 0.0
	if l.cfg.EquitySource != nil {
		equity = l.cfg.EquitySource()
	}

	volume := signal.PositionSize(equity, l.cfg.StopDistance, l.cfg.RiskConfig)
	if volume <= 0 {
		return rec, nil, nil
	}

	exposureValue := volume * tick.Mid() * l.cfg.ContractSize
	if !l.checkExposure(exposureValue, equity) {
		l.log.Warn().Float64("exposure_value", exposureValue).Msg("RISK_BLOCKED: per-symbol exposure cap exceeded")
		return rec, nil, nil
	}

	intent := &signal.OrderIntent{
		Symbol:        l.cfg.Symbol,
		Side:          direction.String(),
		Volume:        volume,
		ClientOrderID: uuid.NewString(),
	}

	if l.cfg.Shadow {
		return rec, intent, nil
	}

	l.setState(StateSubmit)
	result, err := l.cfg.Gateway.OpenOrder(ctx, gateway.OpenOrderRequest{
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Volume:        intent.Volume,
		ClientOrderID: intent.ClientOrderID,
	})
	if err != nil {
		if l.cfg.Durable.ShouldHalt() {
			return rec, intent, errBlocked
		}
		return rec, intent, err
	}

	l.addExposure(exposureValue)
	if l.cfg.Exposure != nil {
		l.cfg.Exposure.RecordFill(l.cfg.Symbol, result.Commission+result.Swap)
	}

	return rec, intent, nil
}

// checkExposure implements the per-symbol risk isolation check (spec §4.9):
// current_symbol_exposure + intent_volume ≤ max_per_symbol_exposure * equity.
func (l *Loop) checkExposure(additionalValue, equity float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	limit := l.cfg.MaxPerSymbolExposure * equity
	return l.exposureValue+additionalValue <= limit
}

func (l *Loop) addExposure(v float64) {
	l.mu.Lock()
	l.exposureValue += v
	l.mu.Unlock()
}

// settle implements SETTLE: update the local book, notify C11, and forward
// the signal record to C12 regardless of shadow/live mode.
func (l *Loop) settle(ctx context.Context, rec signal.Record, intent *signal.OrderIntent) {
	l.setState(StateSettle)

	if l.cfg.Recorder != nil {
		l.cfg.Recorder.Record(ctx, rec, intent)
	}
	if l.cfg.Exposure != nil {
		l.mu.Lock()
		exposureValue := l.exposureValue
		l.mu.Unlock()
		l.cfg.Exposure.UpdateExposure(l.cfg.Symbol, exposureValue)
	}
}

// recordFailure tracks a rolling count of EVAL/SUBMIT failures and engages
// the breaker once the count within instabilityWindow reaches
// instabilityThreshold (spec §4.9).
func (l *Loop) recordFailure(ctx context.Context) {
	now := time.Now()

	l.mu.Lock()
	cutoff := now.Add(-instabilityWindow)
	kept := l.failureTimestamps[:0]
	for _, t := range l.failureTimestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	l.failureTimestamps = kept
	count := len(l.failureTimestamps)
	l.mu.Unlock()

	if count >= instabilityThreshold {
		_ = l.cfg.Durable.Engage("LOOP_INSTABILITY", map[string]string{
			"symbol":   l.cfg.Symbol,
			"failures": fmt.Sprintf("%d", count),
		})
		alerts.LoopInstability(ctx, l.cfg.Symbol, count)
	}
}
