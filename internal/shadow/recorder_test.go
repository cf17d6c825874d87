package shadow

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luzhengheng/MT5-sub005/internal/signal"
)

func testLogger() zerolog.Logger { return zerolog.New(os.Stderr) }

func readEntries(t *testing.T, dir string) []entry {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "shadow-*.ndjson"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()

	var out []entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		out = append(out, e)
	}
	return out
}

func TestRecorder_FlushesOnCloseEvenBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, testLogger())
	require.NoError(t, err)

	rec := signal.Record{
		ID:              1,
		Symbol:          "EURUSD",
		Direction:       signal.Buy,
		Price:           1.1050,
		Confidence:      0.8,
		TimestampSignal: time.Now().UTC(),
		TimestampLog:    time.Now().UTC(),
	}
	r.Record(context.Background(), rec, nil)
	require.NoError(t, r.Close())

	entries := readEntries(t, dir)
	require.Len(t, entries, 1)
	assert.Equal(t, "EURUSD", entries[0].Symbol)
	assert.Equal(t, 1, entries[0].Signal)
}

func TestRecorder_FlushesAutomaticallyAtRecordThreshold(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, testLogger())
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < flushRecordThreshold; i++ {
		r.Record(context.Background(), signal.Record{
			ID:              uint64(i),
			Symbol:          "EURUSD",
			Direction:       signal.Flat,
			TimestampSignal: time.Now().UTC(),
			TimestampLog:    time.Now().UTC(),
		}, nil)
	}

	// The threshold-triggered flush runs synchronously inside Record, so the
	// file should already hold every record without waiting on the ticker.
	entries := readEntries(t, dir)
	assert.Len(t, entries, flushRecordThreshold)
}

func TestRecorder_PeriodicFlushWritesBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, testLogger())
	require.NoError(t, err)
	defer r.Close()

	r.Record(context.Background(), signal.Record{
		ID:              1,
		Symbol:          "GBPUSD",
		Direction:       signal.Sell,
		TimestampSignal: time.Now().UTC(),
		TimestampLog:    time.Now().UTC(),
	}, nil)

	assert.Eventually(t, func() bool {
		matches, _ := filepath.Glob(filepath.Join(dir, "shadow-*.ndjson"))
		if len(matches) != 1 {
			return false
		}
		info, err := os.Stat(matches[0])
		return err == nil && info.Size() > 0
	}, 2*flushInterval, 50*time.Millisecond)
}

func TestRecorder_RecordsWithOrderIntentAreAcceptedButNotRequired(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, testLogger())
	require.NoError(t, err)

	intent := &signal.OrderIntent{Symbol: "EURUSD", Side: "BUY", Volume: 0.1}
	assert.NotPanics(t, func() {
		r.Record(context.Background(), signal.Record{Symbol: "EURUSD", Direction: signal.Buy}, intent)
	})
	require.NoError(t, r.Close())
}

func TestRecorder_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}
