package reconcile

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/luzhengheng/MT5-sub005/internal/alerts"
	"github.com/luzhengheng/MT5-sub005/internal/breaker"
	"github.com/luzhengheng/MT5-sub005/internal/gateway"
	"github.com/luzhengheng/MT5-sub005/internal/metrics"
)

// defaultTolerance is the default economics-comparison tolerance, one cent
// of account currency (spec §4.14).
const defaultTolerance = 0.01

// Reconciler matches local order records against broker-reported deal
// history and raises a RECONCILIATION_ERROR alert, engaging the circuit
// breaker, on any field mismatch (spec §4.14).
type Reconciler struct {
	tolerance float64
	breaker   *breaker.Manager
	alerter   *alerts.Manager
	log       zerolog.Logger
}

// New builds a Reconciler. tolerance <= 0 falls back to defaultTolerance.
func New(tolerance float64, circuit *breaker.Manager, alerter *alerts.Manager, log zerolog.Logger) *Reconciler {
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &Reconciler{tolerance: tolerance, breaker: circuit, alerter: alerter, log: log}
}

// Reconcile matches local against broker records by (ticket, client_order_id)
// and compares economics within tolerance for every match. Engages the
// circuit breaker and sends a critical alert if any row mismatches.
func (r *Reconciler) Reconcile(ctx context.Context, local []LocalOrder, broker []gateway.Deal) Report {
	report := Report{}

	localByKey := make(map[string]LocalOrder, len(local))
	localConsumed := make(map[string]bool, len(local))
	for _, lo := range local {
		localByKey[reconcileKey(lo.Ticket, lo.ClientOrderID)] = lo
	}

	for _, deal := range broker {
		key := reconcileKey(deal.Ticket, deal.ClientOrderID)
		lo, found := localByKey[key]
		if !found {
			report.Rows = append(report.Rows, Row{
				Status:        Orphan,
				ClientOrderID: deal.ClientOrderID,
				Ticket:        deal.Ticket,
				Symbol:        deal.Symbol,
			})
			continue
		}
		localConsumed[key] = true

		mismatches := r.compareEconomics(lo, deal)
		if len(mismatches) == 0 {
			report.Rows = append(report.Rows, Row{
				Status:        Match,
				ClientOrderID: deal.ClientOrderID,
				Ticket:        deal.Ticket,
				Symbol:        deal.Symbol,
			})
			continue
		}

		report.Rows = append(report.Rows, Row{
			Status:        Mismatch,
			ClientOrderID: deal.ClientOrderID,
			Ticket:        deal.Ticket,
			Symbol:        deal.Symbol,
			Mismatches:    mismatches,
		})
		r.raiseMismatch(ctx, deal, mismatches)
	}

	for _, lo := range local {
		key := reconcileKey(lo.Ticket, lo.ClientOrderID)
		if localConsumed[key] {
			continue
		}
		report.Rows = append(report.Rows, Row{
			Status:        Ghost,
			ClientOrderID: lo.ClientOrderID,
			Ticket:        lo.Ticket,
			Symbol:        lo.Symbol,
		})
	}

	return report
}

func reconcileKey(ticket int64, clientOrderID string) string {
	return fmt.Sprintf("%d|%s", ticket, clientOrderID)
}

// compareEconomics compares price/volume/commission/swap/profit within
// tolerance, returning the names of every field outside it.
func (r *Reconciler) compareEconomics(lo LocalOrder, deal gateway.Deal) []string {
	var mismatches []string
	if math.Abs(lo.Price-deal.Price) > r.tolerance {
		mismatches = append(mismatches, "price")
	}
	if math.Abs(lo.Volume-deal.Volume) > r.tolerance {
		mismatches = append(mismatches, "volume")
	}
	if math.Abs(lo.Commission-deal.Commission) > r.tolerance {
		mismatches = append(mismatches, "commission")
	}
	if math.Abs(lo.Swap-deal.Swap) > r.tolerance {
		mismatches = append(mismatches, "swap")
	}
	if math.Abs(lo.Profit-deal.Profit) > r.tolerance {
		mismatches = append(mismatches, "profit")
	}
	return mismatches
}

func (r *Reconciler) raiseMismatch(ctx context.Context, deal gateway.Deal, mismatches []string) {
	metrics.RecordReconciliationMismatch("field_mismatch")
	r.log.Error().
		Int64("ticket", deal.Ticket).
		Str("symbol", deal.Symbol).
		Strs("fields", mismatches).
		Msg("reconciliation mismatch")

	if r.breaker != nil {
		if err := r.breaker.Engage("RECONCILIATION_ERROR", map[string]string{
			"ticket": fmt.Sprintf("%d", deal.Ticket),
			"symbol": deal.Symbol,
		}); err != nil {
			r.log.Error().Err(err).Msg("failed to engage circuit breaker on reconciliation mismatch")
		}
	}

	if r.alerter != nil {
		_ = r.alerter.SendCritical(ctx, "RECONCILIATION_ERROR",
			fmt.Sprintf("ticket %d mismatched on %v", deal.Ticket, mismatches),
			map[string]interface{}{"ticket": deal.Ticket, "symbol": deal.Symbol, "fields": mismatches})
	}
}
