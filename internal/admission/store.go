package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// poolInterface is the Exec/QueryRow subset of *pgxpool.Pool the store
// needs, narrowed so tests can substitute pgxmock.
type poolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store persists admission decisions to Postgres as an audit trail beyond
// the single artifact file spec.md §6 names (spec.md is silent on history
// retention; this is a supplemented feature, see SPEC_FULL.md §12).
type Store struct {
	pool poolInterface
}

// NewStore wraps an existing pool and ensures the decisions table exists.
func NewStore(ctx context.Context, pool poolInterface) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS admission_decisions (
			id                   BIGSERIAL PRIMARY KEY,
			recorded_at          TIMESTAMPTZ NOT NULL,
			decision             TEXT NOT NULL,
			approval_confidence  DOUBLE PRECISION NOT NULL,
			critical_errors      INTEGER NOT NULL,
			p95_latency_ms       DOUBLE PRECISION NOT NULL,
			p99_latency_ms       DOUBLE PRECISION NOT NULL,
			drift_events_24h     INTEGER NOT NULL,
			pnl_net_return       DOUBLE PRECISION NOT NULL,
			diversity_index      DOUBLE PRECISION NOT NULL,
			challenger_f1        DOUBLE PRECISION NOT NULL,
			rejection_reasons    TEXT[] NOT NULL DEFAULT '{}',
			decision_hash        TEXT NOT NULL,
			position_coefficient DOUBLE PRECISION NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("admission store: ensure schema: %w", err)
	}
	return nil
}

// Insert records a Decision in the history table.
func (s *Store) Insert(ctx context.Context, d Decision) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admission_decisions (
			recorded_at, decision, approval_confidence, critical_errors,
			p95_latency_ms, p99_latency_ms, drift_events_24h, pnl_net_return,
			diversity_index, challenger_f1, rejection_reasons, decision_hash,
			position_coefficient
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		d.Timestamp, string(d.Decision), d.ApprovalConfidence, d.CriticalErrors,
		d.P95LatencyMS, d.P99LatencyMS, d.DriftEvents24h, d.PnLNetReturn,
		d.DiversityIndex, d.ChallengerF1, d.RejectionReasons, d.DecisionHash,
		d.PositionCoefficient,
	)
	if err != nil {
		return fmt.Errorf("admission store: insert: %w", err)
	}
	return nil
}

// Latest returns the most recently recorded decision, or false if the table
// is empty.
func (s *Store) Latest(ctx context.Context) (Decision, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT recorded_at, decision, approval_confidence, critical_errors,
		       p95_latency_ms, p99_latency_ms, drift_events_24h, pnl_net_return,
		       diversity_index, challenger_f1, rejection_reasons, decision_hash,
		       position_coefficient
		FROM admission_decisions
		ORDER BY recorded_at DESC
		LIMIT 1
	`)

	var d Decision
	var outcome string
	err := row.Scan(
		&d.Timestamp, &outcome, &d.ApprovalConfidence, &d.CriticalErrors,
		&d.P95LatencyMS, &d.P99LatencyMS, &d.DriftEvents24h, &d.PnLNetReturn,
		&d.DiversityIndex, &d.ChallengerF1, &d.RejectionReasons, &d.DecisionHash,
		&d.PositionCoefficient,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Decision{}, false, nil
		}
		return Decision{}, false, fmt.Errorf("admission store: latest: %w", err)
	}
	d.Decision = Outcome(outcome)
	return d, true, nil
}
