// Command admit is the standalone admission-artifact generator (C13): given
// a window of shadow records and a model-comparison report, it derives
// metrics, runs the GO/NO-GO/WARNING rules, and writes the signed artifact
// the Launcher (C15) verifies at startup.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luzhengheng/MT5-sub005/internal/admission"
	"github.com/luzhengheng/MT5-sub005/internal/breaker"
	"github.com/luzhengheng/MT5-sub005/internal/db"
)

// shadowLine mirrors the on-disk shape shadow.Recorder writes (spec §4.12);
// duplicated rather than imported since that struct is unexported.
type shadowLine struct {
	ID              uint64    `json:"id"`
	TimestampSignal time.Time `json:"timestamp_signal"`
	TimestampLog    time.Time `json:"timestamp_log"`
	Symbol          string    `json:"symbol"`
	Signal          int       `json:"signal"`
	Price           float64   `json:"price"`
	Confidence      float64   `json:"confidence"`
}

func main() {
	shadowPath := flag.String("shadow-file", "", "path to an NDJSON shadow-record file (required)")
	reportPath := flag.String("comparison-report", "", "path to the model-comparison report JSON file (required)")
	driftPath := flag.String("drift-events", "", "optional path to a JSON array of {timestamp,psi} drift events")
	outputPath := flag.String("output", "", "path to write the admission artifact (required)")
	coefficient := flag.Float64("position-coefficient", 0, "initial sizing coefficient seeded on a GO decision")
	slippage := flag.Float64("slippage", 0, "per-trade slippage used by the PnL simulation; <=0 uses the engine default")
	databaseURL := flag.String("database-url", "", "optional Postgres DSN; when set, the decision is also inserted into the history table")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *shadowPath == "" || *reportPath == "" || *outputPath == "" {
		log.Fatal().Msg("-shadow-file, -comparison-report and -output are required")
	}

	records, err := readShadowRecords(*shadowPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read shadow records")
	}
	report, err := readComparisonReport(*reportPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read comparison report")
	}
	driftEvents, err := readDriftEvents(*driftPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read drift events")
	}

	metrics := admission.DeriveMetrics(records, driftEvents, report, *slippage)
	outcome, confidence, reasons := admission.Decide(metrics)

	decision, err := admission.NewBuilder(metrics, outcome, confidence, reasons).
		WithPositionCoefficient(*coefficient).
		Build()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build admission decision")
	}

	if err := admission.WriteArtifact(*outputPath, decision); err != nil {
		log.Fatal().Err(err).Msg("failed to write admission artifact")
	}
	log.Info().
		Str("decision", string(decision.Decision)).
		Float64("confidence", decision.ApprovalConfidence).
		Strs("reasons", decision.RejectionReasons).
		Str("path", *outputPath).
		Msg("admission artifact written")

	if *databaseURL != "" {
		if err := persistDecision(*databaseURL, decision); err != nil {
			log.Fatal().Err(err).Msg("failed to persist admission decision")
		}
		log.Info().Msg("admission decision inserted into history table")
	}
}

// readShadowRecords parses an NDJSON shadow file into the engine's input type.
func readShadowRecords(path string) ([]admission.ShadowRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shadow file: %w", err)
	}
	defer f.Close()

	var records []admission.ShadowRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sl shadowLine
		if err := json.Unmarshal(line, &sl); err != nil {
			return nil, fmt.Errorf("decode shadow record: %w", err)
		}
		records = append(records, admission.ShadowRecord{
			ID:              sl.ID,
			Symbol:          sl.Symbol,
			Signal:          sl.Signal,
			Price:           sl.Price,
			TimestampSignal: sl.TimestampSignal,
			TimestampLog:    sl.TimestampLog,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan shadow file: %w", err)
	}
	return records, nil
}

func readComparisonReport(path string) (admission.ComparisonReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return admission.ComparisonReport{}, fmt.Errorf("read comparison report: %w", err)
	}
	var report admission.ComparisonReport
	if err := json.Unmarshal(data, &report); err != nil {
		return admission.ComparisonReport{}, fmt.Errorf("decode comparison report: %w", err)
	}
	return report, nil
}

func readDriftEvents(path string) ([]admission.DriftEvent, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read drift events: %w", err)
	}
	var events []admission.DriftEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode drift events: %w", err)
	}
	return events, nil
}

// persistDecision inserts the decision into the Postgres admission history
// table (read back by admission.Store.Latest), independent of the artifact
// file the Launcher verifies.
func persistDecision(databaseURL string, decision admission.Decision) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database, err := db.New(ctx, databaseURL, breaker.NewTransientManager(nil, nil, nil), log.Logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	store, err := admission.NewStore(ctx, database.Pool())
	if err != nil {
		return fmt.Errorf("initialize admission store: %w", err)
	}
	return store.Insert(ctx, decision)
}
