package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/luzhengheng/MT5-sub005/internal/alerts"
	"github.com/luzhengheng/MT5-sub005/internal/breaker"
)

// Config configures the Subscriber.
type Config struct {
	NATSUrl       string
	Subjects      []string // per-symbol subjects, e.g. "ticks.EURUSD.s"
	BufferSize    int
	LagEngageHigh int // dropped-tick count that engages the breaker
}

// Subscriber owns one NATS connection and one ring buffer per subscribed
// symbol. It is safe for concurrent Latest() calls from every symbol loop.
type Subscriber struct {
	mu      sync.RWMutex
	nc      *nats.Conn
	subs    []*nats.Subscription
	buffers map[string]*ringBuffer
	cache   *ReplayCache
	durable *breaker.Manager
	lagHigh int
	log     zerolog.Logger
}

// NewSubscriber connects to NATS and subscribes to every configured subject.
func NewSubscriber(ctx context.Context, cfg Config, cache *ReplayCache, durable *breaker.Manager, log zerolog.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(
		cfg.NATSUrl,
		nats.Name("mt5crs-marketdata"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("market data NATS connection lost")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("market data NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to market data NATS: %w", err)
	}

	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 1024
	}

	sub := &Subscriber{
		nc:      nc,
		buffers: make(map[string]*ringBuffer, len(cfg.Subjects)),
		cache:   cache,
		durable: durable,
		lagHigh: cfg.LagEngageHigh,
		log:     log.With().Str("component", "market_data").Logger(),
	}

	for _, subject := range cfg.Subjects {
		rb := newRingBuffer(bufSize)
		sub.buffers[subject] = rb

		subscription, err := nc.Subscribe(subject, sub.handler(subject, rb))
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
		}
		sub.subs = append(sub.subs, subscription)
	}

	return sub, nil
}

func (s *Subscriber) handler(subject string, rb *ringBuffer) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var tick Tick
		if err := json.Unmarshal(msg.Data, &tick); err != nil {
			s.log.Warn().Err(err).Str("subject", subject).Msg("discarding unparseable tick")
			return
		}

		rb.push(tick)
		if s.cache != nil {
			s.cache.Set(context.Background(), tick)
		}

		if s.lagHigh > 0 && rb.droppedCount() >= uint64(s.lagHigh) {
			reason := "MARKET_DATA_LAG"
			if err := s.durable.Engage(reason, map[string]string{
				"subject": subject,
				"dropped": fmt.Sprintf("%d", rb.droppedCount()),
			}); err == nil {
				alerts.LoopInstability(context.Background(), subject, int(rb.droppedCount()))
			}
		}
	}
}

// Latest returns the most recent tick received on subject, falling back to
// the replay cache when the buffer is empty (e.g. right after (re)start).
func (s *Subscriber) Latest(ctx context.Context, subject string) (Tick, bool) {
	s.mu.RLock()
	rb, ok := s.buffers[subject]
	s.mu.RUnlock()
	if !ok {
		return Tick{}, false
	}

	if t, ok := rb.latest(); ok {
		return t, true
	}
	return s.cache.Get(ctx, subject)
}

// Dropped returns the number of ticks overwritten for subject before read.
func (s *Subscriber) Dropped(subject string) uint64 {
	s.mu.RLock()
	rb, ok := s.buffers[subject]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return rb.droppedCount()
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.nc.Close()
}
