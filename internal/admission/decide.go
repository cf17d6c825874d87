package admission

import "fmt"

// rule is one ordered decision rule (spec §4.13's numbered table). fail
// reports whether the rule failed for the given metrics. reason is the
// human-worded string recorded in rejection_reasons (spec §8 scenario 5).
type rule struct {
	name    string
	reason  string
	outcome Outcome
	fail    func(m Metrics) bool
}

// rules is evaluated in order; the first failing NO-GO rule dominates.
// WARNING rules accumulate rather than short-circuiting each other.
var rules = []rule{
	{"critical_latency_count == 0", "Critical latency event detected", NoGo, func(m Metrics) bool { return m.CriticalLatencyCount != 0 }},
	{"p99_latency_ms < 100", "P99 latency exceeds 100ms", NoGo, func(m Metrics) bool { return !(m.P99LatencyMS < 100) }},
	{"drift_events_24h < 5", "Drift event count exceeds daily maximum", NoGo, func(m Metrics) bool { return !(m.DriftEvents24h < 5) }},
	{"challenger_f1 > 0.5", "Challenger F1 score below minimum", Warning, func(m Metrics) bool { return !(m.ChallengerF1 > 0.5) }},
	{"diversity_index > 0.4", "Diversity index below minimum", Warning, func(m Metrics) bool { return !(m.DiversityIndex > 0.4) }},
}

// Decide evaluates every rule in order against m and returns the outcome,
// its confidence, and the human-readable reason of every rule that failed
// (spec §4.13).
// Any failing NO-GO rule dominates regardless of how many WARNING rules
// also fail; a clean NO-GO result is confidence 1.0, per the spec's
// "if no rule fails: GO (confidence 1.0)" wording extended to the
// symmetric NO-GO case — only the warning path scales confidence down.
func Decide(m Metrics) (Outcome, float64, []string) {
	var reasons []string
	outcome := Go
	warnings := 0

	for _, r := range rules {
		if !r.fail(m) {
			continue
		}
		reasons = append(reasons, r.reason)
		if r.outcome == NoGo {
			outcome = NoGo
		} else if outcome != NoGo {
			outcome = Warning
			warnings++
		} else {
			warnings++
		}
	}

	confidence := 1.0
	if outcome == Warning {
		confidence = 1.0 - 0.15*float64(warnings)
		if confidence < 0 {
			confidence = 0
		}
	}

	return outcome, confidence, reasons
}

// ErrNoGo is a sentinel the Launcher (C15) can match on to abort startup.
var ErrNoGo = fmt.Errorf("admission decision is NO-GO")
