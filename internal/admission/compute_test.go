package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mkRecord(signalOffset time.Duration, logLatency time.Duration, signal int, price float64) ShadowRecord {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := base.Add(signalOffset)
	return ShadowRecord{
		Symbol:          "EURUSD",
		Signal:          signal,
		Price:           price,
		TimestampSignal: ts,
		TimestampLog:    ts.Add(logLatency),
	}
}

func TestLatencyStats_EmptyReturnsZero(t *testing.T) {
	p95, p99, critical := latencyStats(nil)
	assert.Zero(t, p95)
	assert.Zero(t, p99)
	assert.Zero(t, critical)
}

func TestLatencyStats_CountsCriticalOver100ms(t *testing.T) {
	records := []ShadowRecord{
		mkRecord(0, 10*time.Millisecond, 1, 1.1),
		mkRecord(time.Second, 150*time.Millisecond, 1, 1.1),
		mkRecord(2*time.Second, 200*time.Millisecond, 1, 1.1),
	}
	_, _, critical := latencyStats(records)
	assert.Equal(t, 2, critical)
}

func TestPercentile_SingleElement(t *testing.T) {
	assert.Equal(t, 5.0, percentile([]float64{5.0}, 0.95))
}

func TestPercentile_EmptyReturnsZero(t *testing.T) {
	assert.Zero(t, percentile(nil, 0.95))
}

func TestMaxEventsInAnyRollingWindow_NoEvents(t *testing.T) {
	assert.Zero(t, maxEventsInAnyRollingWindow(nil, 24*time.Hour))
}

func TestMaxEventsInAnyRollingWindow_FindsDenserSubWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []DriftEvent{
		{Timestamp: base, PSI: 0.3},
		{Timestamp: base.Add(48 * time.Hour), PSI: 0.3},
		{Timestamp: base.Add(49 * time.Hour), PSI: 0.3},
		{Timestamp: base.Add(50 * time.Hour), PSI: 0.3},
		{Timestamp: base.Add(80 * time.Hour), PSI: 0.3},
	}
	// the dense cluster at 48h-50h (3 events within 24h) should dominate,
	// not the count as of the last event.
	got := maxEventsInAnyRollingWindow(events, 24*time.Hour)
	assert.Equal(t, 3, got)
}

func TestMaxEventsInAnyRollingWindow_UnsortedInputIsSorted(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []DriftEvent{
		{Timestamp: base.Add(2 * time.Hour), PSI: 0.3},
		{Timestamp: base, PSI: 0.3},
		{Timestamp: base.Add(1 * time.Hour), PSI: 0.3},
	}
	got := maxEventsInAnyRollingWindow(events, 24*time.Hour)
	assert.Equal(t, 3, got)
}

func TestSimulatePnL_OpensAndClosesOnOppositeSignal(t *testing.T) {
	sorted := []ShadowRecord{
		mkRecord(0, 0, 1, 1.1000),
		mkRecord(time.Second, 0, -1, 1.1050),
	}
	net := simulatePnL(sorted, 0.0001)
	assert.InDelta(t, 0.0049, net, 1e-9)
}

func TestSimulatePnL_ImmediatelyReopensOnFlip(t *testing.T) {
	sorted := []ShadowRecord{
		mkRecord(0, 0, 1, 1.1000),
		mkRecord(time.Second, 0, -1, 1.1050),
		mkRecord(2*time.Second, 0, 0, 1.1030),
	}
	net := simulatePnL(sorted, 0.0001)
	// first leg: long 1.1000 -> 1.1050 = +0.0050 - slippage
	// second leg: short 1.1050 -> 1.1030 = +0.0020 - slippage
	assert.InDelta(t, 0.0049+0.0019, net, 1e-9)
}

func TestSimulatePnL_NoSignalsNetsZero(t *testing.T) {
	sorted := []ShadowRecord{
		mkRecord(0, 0, 0, 1.1000),
		mkRecord(time.Second, 0, 0, 1.1050),
	}
	assert.Zero(t, simulatePnL(sorted, 0.0001))
}

func TestDeriveMetrics_FallsBackToDefaultSlippage(t *testing.T) {
	records := []ShadowRecord{
		mkRecord(0, 5*time.Millisecond, 1, 1.1000),
		mkRecord(time.Second, 5*time.Millisecond, -1, 1.1050),
	}
	m1 := DeriveMetrics(records, nil, ComparisonReport{}, 0)
	m2 := DeriveMetrics(records, nil, ComparisonReport{}, defaultSlippage)
	assert.Equal(t, m1.PnLNetReturn, m2.PnLNetReturn)
}

func TestDeriveMetrics_PopulatesFromReport(t *testing.T) {
	report := ComparisonReport{ChallengerF1: 0.72, DiversityIndex: 0.55}
	m := DeriveMetrics(nil, nil, report, 0.0001)
	assert.Equal(t, 0.72, m.ChallengerF1)
	assert.Equal(t, 0.55, m.DiversityIndex)
}
