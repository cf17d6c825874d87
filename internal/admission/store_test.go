package admission

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_CreatesSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS admission_decisions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store, err := NewStore(context.Background(), mock)
	require.NoError(t, err)
	assert.NotNil(t, store)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Insert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS admission_decisions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	store, err := NewStore(context.Background(), mock)
	require.NoError(t, err)

	d := Decision{
		Timestamp:        time.Now().UTC(),
		Decision:         Go,
		RejectionReasons: []string{},
		DecisionHash:     "deadbeef",
	}

	mock.ExpectExec("INSERT INTO admission_decisions").
		WithArgs(d.Timestamp, string(d.Decision), d.ApprovalConfidence, d.CriticalErrors,
			d.P95LatencyMS, d.P99LatencyMS, d.DriftEvents24h, d.PnLNetReturn,
			d.DiversityIndex, d.ChallengerF1, d.RejectionReasons, d.DecisionHash,
			d.PositionCoefficient).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), d))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LatestReturnsFalseOnEmptyTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS admission_decisions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	store, err := NewStore(context.Background(), mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT recorded_at").
		WillReturnRows(pgxmock.NewRows([]string{
			"recorded_at", "decision", "approval_confidence", "critical_errors",
			"p95_latency_ms", "p99_latency_ms", "drift_events_24h", "pnl_net_return",
			"diversity_index", "challenger_f1", "rejection_reasons", "decision_hash",
			"position_coefficient",
		}))

	_, found, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LatestReturnsMostRecentRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS admission_decisions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	store, err := NewStore(context.Background(), mock)
	require.NoError(t, err)

	ts := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"recorded_at", "decision", "approval_confidence", "critical_errors",
		"p95_latency_ms", "p99_latency_ms", "drift_events_24h", "pnl_net_return",
		"diversity_index", "challenger_f1", "rejection_reasons", "decision_hash",
		"position_coefficient",
	}).AddRow(ts, "GO", 1.0, 0, 20.0, 40.0, 1, 0.02, 0.5, 0.6, []string{}, "abc123", 1.0)

	mock.ExpectQuery("SELECT recorded_at").WillReturnRows(rows)

	d, found, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, Go, d.Decision)
	assert.Equal(t, "abc123", d.DecisionHash)
	require.NoError(t, mock.ExpectationsWereMet())
}
