// Command reconcile is the standalone reconciliation run (C14): it pulls
// broker deal history over the gateway, compares it against a local order
// export, and reports matches, mismatches, ghosts and orphans (spec §4.14).
// Run on a schedule (cron, k8s CronJob) rather than folded into the
// long-running executor process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luzhengheng/MT5-sub005/internal/alerts"
	"github.com/luzhengheng/MT5-sub005/internal/breaker"
	"github.com/luzhengheng/MT5-sub005/internal/db"
	"github.com/luzhengheng/MT5-sub005/internal/gateway"
	"github.com/luzhengheng/MT5-sub005/internal/reconcile"
)

func main() {
	localOrdersPath := flag.String("local-orders", "", "path to a JSON array of local order records (required)")
	gatewayAddr := flag.String("gateway-addr", "", "broker adapter address, host:port (required)")
	breakerFile := flag.String("breaker-file", "/var/lib/mt5crs/breaker.json", "durable circuit breaker state file")
	since := flag.Duration("since", 24*time.Hour, "how far back to pull broker deal history")
	tolerance := flag.Float64("tolerance", 0, "economics comparison tolerance; <=0 uses the engine default")
	databaseURL := flag.String("database-url", "", "optional Postgres DSN; when set, the report is inserted into the history table")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *localOrdersPath == "" || *gatewayAddr == "" {
		log.Fatal().Msg("-local-orders and -gateway-addr are required")
	}

	local, err := readLocalOrders(*localOrdersPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read local orders")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	durable, err := breaker.NewManager(*breakerFile, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open durable circuit breaker")
	}
	transient := breaker.NewTransientManager(nil, nil, nil)

	gw, err := gateway.NewClient(ctx, gateway.Config{
		Addr:    *gatewayAddr,
		Timeout: 10 * time.Second,
		Retry:   gateway.DefaultRetryConfig(),
	}, transient, durable, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to gateway adapter")
	}
	defer gw.Close()

	deals, err := gw.GetHistory(ctx, time.Now().Add(-*since))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to pull broker deal history")
	}

	reconciler := reconcile.New(*tolerance, durable, alerts.NewManager(alerts.NewLogAlerter()), log.Logger)
	report := reconciler.Reconcile(ctx, local, deals)

	counts := report.Counts()
	log.Info().
		Int("match", counts[reconcile.Match]).
		Int("mismatch", counts[reconcile.Mismatch]).
		Int("ghost", counts[reconcile.Ghost]).
		Int("orphan", counts[reconcile.Orphan]).
		Msg("reconciliation complete")

	if *databaseURL != "" {
		if err := persistReport(*databaseURL, report, log.Logger); err != nil {
			log.Error().Err(err).Msg("failed to persist reconciliation report")
		}
	}

	if report.HasMismatches() {
		os.Exit(1)
	}
}

func readLocalOrders(path string) ([]reconcile.LocalOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read local orders: %w", err)
	}
	var orders []reconcile.LocalOrder
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("decode local orders: %w", err)
	}
	return orders, nil
}

func persistReport(databaseURL string, report reconcile.Report, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database, err := db.New(ctx, databaseURL, breaker.NewTransientManager(nil, nil, nil), logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	store, err := reconcile.NewStore(ctx, database.Pool())
	if err != nil {
		return fmt.Errorf("initialize reconciliation store: %w", err)
	}
	return store.Insert(ctx, report)
}
