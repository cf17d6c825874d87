package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// DecisionHash computes a stable 16-hex-character digest of a canonical
// serialization of the tuple (critical_errors, p95_latency_ms,
// p99_latency_ms, drift_events_24h, challenger_f1, diversity_index,
// decision) — spec §4.13, §8 scenario 4. Field order and float formatting
// are fixed so a re-run on identical inputs reproduces the same hash, and
// so the Launcher (C15) can recompute it from an artifact to detect
// tampering (spec §4.15 step 2). The digest is truncated to the first 8
// bytes of the sha256 sum to match the specified token width.
func DecisionHash(m Metrics, outcome Outcome) string {
	canonical := fmt.Sprintf(
		"%d|%s|%s|%d|%s|%s|%s",
		m.CriticalLatencyCount,
		formatFloat(m.P95LatencyMS),
		formatFloat(m.P99LatencyMS),
		m.DriftEvents24h,
		formatFloat(m.ChallengerF1),
		formatFloat(m.DiversityIndex),
		outcome,
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
