package admission

import (
	"sort"
	"time"
)

// defaultSlippage is the configurable per-trade cost PnLNetReturn deducts
// when no explicit slippage is supplied (spec §4.13: "default 1 pip").
const defaultSlippage = 0.0001

// DriftEvent is one PSI-breach observation feeding driftEvents24h. Carries
// only what the sliding-window max needs.
type DriftEvent struct {
	Timestamp time.Time
	PSI       float64
}

// DeriveMetrics computes every derived metric spec §4.13 names from a window
// of shadow records, the drift events observed over the same window, and
// the external comparison report. slippage <= 0 falls back to
// defaultSlippage.
func DeriveMetrics(records []ShadowRecord, driftEvents []DriftEvent, report ComparisonReport, slippage float64) Metrics {
	if slippage <= 0 {
		slippage = defaultSlippage
	}

	sorted := make([]ShadowRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TimestampSignal.Before(sorted[j].TimestampSignal)
	})

	p95, p99, critical := latencyStats(sorted)

	return Metrics{
		P95LatencyMS:         p95,
		P99LatencyMS:         p99,
		CriticalLatencyCount: critical,
		DriftEvents24h:       maxEventsInAnyRollingWindow(driftEvents, 24*time.Hour),
		PnLNetReturn:         simulatePnL(sorted, slippage),
		DiversityIndex:       report.DiversityIndex,
		ChallengerF1:         report.ChallengerF1,
	}
}

// latencyStats computes exact P95/P99 latency in milliseconds over
// timestamp_log - timestamp_signal, plus the count exceeding 100ms (spec
// §4.13 "critical_latency_count"). Percentile indexing mirrors C6's latency
// sensor: index = int(p * (n-1)).
func latencyStats(records []ShadowRecord) (p95, p99 float64, critical int) {
	if len(records) == 0 {
		return 0, 0, 0
	}

	latenciesMS := make([]float64, len(records))
	for i, r := range records {
		ms := float64(r.TimestampLog.Sub(r.TimestampSignal)) / float64(time.Millisecond)
		latenciesMS[i] = ms
		if ms > 100 {
			critical++
		}
	}

	sorted := make([]float64, len(latenciesMS))
	copy(sorted, latenciesMS)
	sort.Float64s(sorted)

	p95 = percentile(sorted, 0.95)
	p99 = percentile(sorted, 0.99)
	return p95, p99, critical
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// maxEventsInAnyRollingWindow returns the largest number of events whose
// timestamps fall within any window-length span, via a two-pointer sweep
// over sorted timestamps (spec §4.13 "maximum ... in any rolling 24-hour
// sub-window" — a sliding-window-max, not a single as-of-now count).
func maxEventsInAnyRollingWindow(events []DriftEvent, window time.Duration) int {
	if len(events) == 0 {
		return 0
	}

	sorted := make([]DriftEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	maxCount := 0
	start := 0
	for end := 0; end < len(sorted); end++ {
		for sorted[end].Timestamp.Sub(sorted[start].Timestamp) > window {
			start++
		}
		if count := end - start + 1; count > maxCount {
			maxCount = count
		}
	}
	return maxCount
}

// simulatePnL implements spec §4.13's paper-trading simulation: each
// non-zero signal opens a one-unit position at the recorded price; it
// closes at the next record carrying the opposite or a zero signal, with
// slippage deducted per round trip.
func simulatePnL(sorted []ShadowRecord, slippage float64) float64 {
	var net float64
	inPosition := false
	var entryPrice float64
	var direction int

	for _, r := range sorted {
		if !inPosition {
			if r.Signal != 0 {
				inPosition = true
				entryPrice = r.Price
				direction = r.Signal
			}
			continue
		}

		if r.Signal == 0 || r.Signal == -direction {
			net += float64(direction)*(r.Price-entryPrice) - slippage
			if r.Signal == -direction {
				inPosition = true
				entryPrice = r.Price
				direction = r.Signal
			} else {
				inPosition = false
			}
		}
	}

	return net
}
