// Package orchestrator starts and supervises one symbol loop per enabled
// symbol, sharing a single gateway client and circuit breaker between them,
// and exposes a pause/resume/status control surface (spec §4.10).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/luzhengheng/MT5-sub005/internal/breaker"
	"github.com/luzhengheng/MT5-sub005/internal/marketdata"
	"github.com/luzhengheng/MT5-sub005/internal/symbolloop"
)

// forcedShutdownTimeout bounds how long loops get to exit cleanly before the
// orchestrator forces their exit by closing the gateway socket (spec §4.10).
const forcedShutdownTimeout = 5 * time.Second

// LoopFactory builds a symbol loop's config for one symbol. The orchestrator
// owns starting and stopping the loop; the factory owns everything
// symbol-specific (model, risk config, feature extraction).
type LoopFactory func(symbol string, paused *atomic.Bool) symbolloop.Config

// TickSource is the subset of marketdata.Subscriber the orchestrator needs
// to bridge ticks into a symbol loop's channel.
type TickSource interface {
	Latest(ctx context.Context, symbol string) (marketdata.Tick, bool)
}

// GatewayCloser is the subset of gateway.Client needed to force a stuck
// loop's exit on shutdown timeout.
type GatewayCloser interface {
	Close() error
}

// Orchestrator starts N symbol loops and supervises their lifecycle.
type Orchestrator struct {
	symbols     []string
	subscriber  TickSource
	gatewayConn GatewayCloser
	durable     *breaker.Manager
	factory     LoopFactory
	log         zerolog.Logger

	mu     sync.RWMutex
	paused map[string]*atomic.Bool
	loops  map[string]*symbolloop.Loop
}

// New constructs an Orchestrator for the given enabled symbols.
func New(symbols []string, subscriber TickSource, gw GatewayCloser, durable *breaker.Manager, factory LoopFactory, log zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		symbols:     symbols,
		subscriber:  subscriber,
		gatewayConn: gw,
		durable:     durable,
		factory:     factory,
		log:         log.With().Str("component", "orchestrator").Logger(),
		paused:      make(map[string]*atomic.Bool),
		loops:       make(map[string]*symbolloop.Loop),
	}
	for _, symbol := range symbols {
		o.paused[symbol] = &atomic.Bool{}
	}
	return o
}

// Run starts every symbol loop and blocks until all exit, ctx is cancelled,
// or a loop returns a non-halt error. Scheduling is single-threaded
// cooperative per the spec's design note: each loop is its own goroutine,
// but every one of them serializes on gateway.Client's own internal mutex
// before touching the shared socket, so there is never a concurrent
// in-flight request (spec §4.10).
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)

	for _, symbol := range o.symbols {
		symbol := symbol
		ticks := make(chan marketdata.Tick, 64)

		cfg := o.factory(symbol, o.paused[symbol])
		loop := symbolloop.New(cfg)

		o.mu.Lock()
		o.loops[symbol] = loop
		o.mu.Unlock()

		g.Go(func() error {
			return o.pumpTicks(gCtx, symbol, ticks)
		})
		g.Go(func() error {
			err := loop.Run(gCtx, ticks)
			if err == symbolloop.ErrHalted {
				o.log.Warn().Str("symbol", symbol).Msg("symbol loop halted")
				return nil
			}
			if err == context.Canceled || err == context.DeadlineExceeded {
				return nil
			}
			return err
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return o.shutdown(done)
	}
}

// pumpTicks bridges the subscriber's latest-tick view into a per-symbol
// channel the loop selects on, at a fixed poll interval. A real adapter
// wiring would have the subscriber push directly; polling keeps this
// package decoupled from the subscriber's internal NATS callback.
func (o *Orchestrator) pumpTicks(ctx context.Context, symbol string, out chan<- marketdata.Tick) error {
	defer close(out)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var lastTimestamp time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick, ok := o.subscriber.Latest(ctx, symbol)
			if !ok || !tick.Timestamp.After(lastTimestamp) {
				continue
			}
			lastTimestamp = tick.Timestamp
			select {
			case out <- tick:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// shutdown broadcasts cancellation to every loop and waits up to
// forcedShutdownTimeout for them to exit; past that it force-closes the
// gateway socket, which surfaces as an error in any stuck loop (spec §4.10).
func (o *Orchestrator) shutdown(done <-chan error) error {
	o.log.Info().Msg("shutdown requested, waiting for loops to exit cleanly")

	select {
	case err := <-done:
		return err
	case <-time.After(forcedShutdownTimeout):
		o.log.Warn().Msg("forced shutdown timeout exceeded, closing gateway socket")
		if o.gatewayConn != nil {
			_ = o.gatewayConn.Close()
		}
		return <-done
	}
}

// Pause stops a symbol's loop from evaluating new ticks without tearing it
// down; ticks are dropped while paused.
func (o *Orchestrator) Pause(symbol string) error {
	o.mu.RLock()
	flag, ok := o.paused[symbol]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	flag.Store(true)
	return nil
}

// Resume clears a symbol's pause flag.
func (o *Orchestrator) Resume(symbol string) error {
	o.mu.RLock()
	flag, ok := o.paused[symbol]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	flag.Store(false)
	return nil
}

// SymbolStatus is one symbol's reported state for the /status endpoint.
type SymbolStatus struct {
	Symbol string `json:"symbol"`
	State  string `json:"state"`
	Paused bool   `json:"paused"`
}

// Status returns every symbol's current loop state and pause flag.
func (o *Orchestrator) Status() []SymbolStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]SymbolStatus, 0, len(o.symbols))
	for _, symbol := range o.symbols {
		loop := o.loops[symbol]
		state := symbolloop.StateIdle.String()
		if loop != nil {
			state = loop.State().String()
		}
		out = append(out, SymbolStatus{
			Symbol: symbol,
			State:  state,
			Paused: o.paused[symbol].Load(),
		})
	}
	return out
}
