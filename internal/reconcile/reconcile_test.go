package reconcile

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luzhengheng/MT5-sub005/internal/breaker"
	"github.com/luzhengheng/MT5-sub005/internal/gateway"
)

func testLogger() zerolog.Logger {
	return zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
}

func testDurable(t *testing.T) *breaker.Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := breaker.NewManager(dir+"/breaker.state", testLogger())
	require.NoError(t, err)
	return m
}

func TestReconcile_MatchedWithinTolerance(t *testing.T) {
	r := New(0, testDurable(t), nil, testLogger())
	local := []LocalOrder{{ClientOrderID: "a", Ticket: 1, Symbol: "EURUSD", Price: 1.1000, Volume: 0.1, Commission: 0.5, Swap: 0, Profit: 2.0}}
	broker := []gateway.Deal{{ClientOrderID: "a", Ticket: 1, Symbol: "EURUSD", Price: 1.1000, Volume: 0.1, Commission: 0.5, Swap: 0, Profit: 2.0}}

	report := r.Reconcile(context.Background(), local, broker)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, Match, report.Rows[0].Status)
	assert.False(t, report.HasMismatches())
}

func TestReconcile_WithinToleranceStillMatches(t *testing.T) {
	r := New(0.01, testDurable(t), nil, testLogger())
	local := []LocalOrder{{ClientOrderID: "a", Ticket: 1, Symbol: "EURUSD", Price: 1.1000}}
	broker := []gateway.Deal{{ClientOrderID: "a", Ticket: 1, Symbol: "EURUSD", Price: 1.1005}}

	report := r.Reconcile(context.Background(), local, broker)
	assert.Equal(t, Match, report.Rows[0].Status)
}

func TestReconcile_PriceMismatchEngagesBreaker(t *testing.T) {
	breakerMgr := testDurable(t)
	r := New(0.01, breakerMgr, nil, testLogger())
	local := []LocalOrder{{ClientOrderID: "a", Ticket: 1, Symbol: "EURUSD", Price: 1.1000}}
	broker := []gateway.Deal{{ClientOrderID: "a", Ticket: 1, Symbol: "EURUSD", Price: 1.2000}}

	report := r.Reconcile(context.Background(), local, broker)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, Mismatch, report.Rows[0].Status)
	assert.Contains(t, report.Rows[0].Mismatches, "price")
	assert.True(t, report.HasMismatches())
	assert.True(t, breakerMgr.ShouldHalt())
}

func TestReconcile_UnmatchedLocalIsGhost(t *testing.T) {
	r := New(0, testDurable(t), nil, testLogger())
	local := []LocalOrder{{ClientOrderID: "a", Ticket: 1, Symbol: "EURUSD"}}

	report := r.Reconcile(context.Background(), local, nil)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, Ghost, report.Rows[0].Status)
}

func TestReconcile_UnmatchedBrokerIsOrphan(t *testing.T) {
	r := New(0, testDurable(t), nil, testLogger())
	broker := []gateway.Deal{{ClientOrderID: "a", Ticket: 1, Symbol: "EURUSD"}}

	report := r.Reconcile(context.Background(), nil, broker)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, Orphan, report.Rows[0].Status)
}

func TestReconcile_MultipleFieldsMismatchedAreAllReported(t *testing.T) {
	r := New(0.01, testDurable(t), nil, testLogger())
	local := []LocalOrder{{ClientOrderID: "a", Ticket: 1, Volume: 0.1, Commission: 0.1}}
	broker := []gateway.Deal{{ClientOrderID: "a", Ticket: 1, Volume: 0.5, Commission: 0.9}}

	report := r.Reconcile(context.Background(), local, broker)
	assert.ElementsMatch(t, []string{"volume", "commission"}, report.Rows[0].Mismatches)
}

func TestReport_CountsTalliesByStatus(t *testing.T) {
	report := Report{Rows: []Row{
		{Status: Match}, {Status: Match}, {Status: Ghost}, {Status: Mismatch},
	}}
	counts := report.Counts()
	assert.Equal(t, 2, counts[Match])
	assert.Equal(t, 1, counts[Ghost])
	assert.Equal(t, 1, counts[Mismatch])
}
