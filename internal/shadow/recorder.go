// Package shadow implements C12: an append-only record of every signal a
// symbol loop evaluates, in shadow and live mode alike, consumed later by
// the admission engine (spec
// §4.12).
package shadow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luzhengheng/MT5-sub005/internal/signal"
)

const (
	flushRecordThreshold = 1000
	flushInterval        = 5 * time.Second
)

// entry is the on-disk shape of one shadow record (spec §4.12): `{id,
// timestamp_signal, timestamp_log, symbol, signal, price, confidence,
// tick_ref}`. `signal` is the directional call (-1/0/1); `tick_ref` is the
// originating tick's timestamp, the only per-tick identity C9 carries
// through to the signal record.
type entry struct {
	ID              uint64    `json:"id"`
	TimestampSignal time.Time `json:"timestamp_signal"`
	TimestampLog    time.Time `json:"timestamp_log"`
	Symbol          string    `json:"symbol"`
	Signal          int       `json:"signal"`
	Price           float64   `json:"price"`
	Confidence      float64   `json:"confidence"`
	TickRef         string    `json:"tick_ref"`
}

// Recorder is C12: implements symbolloop.Recorder. Writes are buffered in
// memory and flushed to a newline-delimited JSON file on a size or time
// threshold, whichever comes first, with the underlying file rotated by UTC
// day (spec §4.12).
type Recorder struct {
	dir string
	log zerolog.Logger

	mu      sync.Mutex
	buf     []entry
	day     string
	file    *os.File
	stopped chan struct{}
	closed  bool
}

// New constructs a Recorder writing NDJSON files under dir, named
// `shadow-YYYY-MM-DD.ndjson`. It starts a background flush ticker; call
// Close to stop it and flush any remaining buffered records.
func New(dir string, log zerolog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shadow recorder: create dir: %w", err)
	}
	r := &Recorder{
		dir:     dir,
		log:     log.With().Str("component", "shadow_recorder").Logger(),
		stopped: make(chan struct{}),
	}
	go r.flushLoop()
	return r, nil
}

// Record implements symbolloop.Recorder. intent is accepted for interface
// compatibility but unused here: the two code paths share C8's output up to
// this call, and only that output is recorded, whether or not the loop
// submitted an order.
func (r *Recorder) Record(ctx context.Context, rec signal.Record, intent *signal.OrderIntent) {
	e := entry{
		ID:              rec.ID,
		TimestampSignal: rec.TimestampSignal,
		TimestampLog:    rec.TimestampLog,
		Symbol:          rec.Symbol,
		Signal:          int(rec.Direction),
		Price:           rec.Price,
		Confidence:      rec.Confidence,
		TickRef:         fmt.Sprintf("%d", rec.TimestampSignal.UnixNano()),
	}

	r.mu.Lock()
	r.buf = append(r.buf, e)
	shouldFlush := len(r.buf) >= flushRecordThreshold
	r.mu.Unlock()

	if shouldFlush {
		if err := r.flush(); err != nil {
			r.log.Error().Err(err).Msg("shadow recorder flush failed")
		}
	}
}

func (r *Recorder) flushLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopped:
			return
		case <-ticker.C:
			if err := r.flush(); err != nil {
				r.log.Error().Err(err).Msg("shadow recorder periodic flush failed")
			}
		}
	}
}

// flush writes every buffered record to the current day's file, rotating to
// a new file if UTC day has advanced since the last write.
func (r *Recorder) flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) == 0 {
		return nil
	}

	if err := r.rotateLocked(); err != nil {
		return err
	}

	enc := json.NewEncoder(r.file)
	for _, e := range r.buf {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("shadow recorder: encode record: %w", err)
		}
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("shadow recorder: sync: %w", err)
	}
	r.buf = r.buf[:0]
	return nil
}

func (r *Recorder) rotateLocked() error {
	day := time.Now().UTC().Format("2006-01-02")
	if day == r.day && r.file != nil {
		return nil
	}

	if r.file != nil {
		_ = r.file.Close()
	}

	path := filepath.Join(r.dir, fmt.Sprintf("shadow-%s.ndjson", day))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("shadow recorder: open %s: %w", path, err)
	}
	r.file = f
	r.day = day
	return nil
}

// Close stops the background flush loop and flushes any remaining buffered
// records.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stopped)
	if err := r.flush(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
