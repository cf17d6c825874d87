// Package reconcile implements C14: it proves that every locally recorded
// order is present at the broker with matching economics (spec §4.14).
package reconcile

import "time"

// Status is the per-row outcome of matching a local record against the
// broker's reported deal history.
type Status string

const (
	Match    Status = "MATCH"
	Mismatch Status = "MISMATCH"
	Ghost    Status = "GHOST"  // local claim, no broker evidence
	Orphan   Status = "ORPHAN" // broker deal, no local record
)

// LocalOrder is the order-local-log half of a reconciliation input: an
// intent the system submitted plus the economics from the gateway's reply
// (spec §3 "Deal / fill" applies to both sides of the comparison).
type LocalOrder struct {
	ClientOrderID string
	Ticket        int64
	Symbol        string
	Side          string
	Volume        float64
	Price         float64
	Commission    float64
	Swap          float64
	Profit        float64
}

// Row is one line of the reconciliation report.
type Row struct {
	Status        Status
	ClientOrderID string
	Ticket        int64
	Symbol        string
	Mismatches    []string
}

// Report is the full output of one reconciliation pass (spec §4.14
// "Output").
type Report struct {
	GeneratedAt time.Time
	Rows        []Row
}

// Counts tallies rows by status, useful for alerting thresholds and
// summaries.
func (r Report) Counts() map[Status]int {
	counts := map[Status]int{}
	for _, row := range r.Rows {
		counts[row.Status]++
	}
	return counts
}

// HasMismatches reports whether the report contains any MISMATCH row.
func (r Report) HasMismatches() bool {
	return r.Counts()[Mismatch] > 0
}
