package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// poolInterface narrows *pgxpool.Pool to what the store needs so tests can
// substitute pgxmock, mirroring internal/admission's store.
type poolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Store persists reconciliation reports, reusing the same Postgres pool
// admission history uses (spec is silent on report retention; supplemented
// feature, see SPEC_FULL.md §12).
type Store struct {
	pool poolInterface
}

// NewStore wraps an existing pool and ensures the report table exists.
func NewStore(ctx context.Context, pool poolInterface) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reconciliation_rows (
			id              BIGSERIAL PRIMARY KEY,
			generated_at    TIMESTAMPTZ NOT NULL,
			status          TEXT NOT NULL,
			client_order_id TEXT NOT NULL,
			ticket          BIGINT NOT NULL,
			symbol          TEXT NOT NULL,
			mismatches      TEXT[] NOT NULL DEFAULT '{}'
		)
	`)
	if err != nil {
		return fmt.Errorf("reconcile store: ensure schema: %w", err)
	}
	return nil
}

// Insert records every row of a Report as one table row each.
func (s *Store) Insert(ctx context.Context, report Report) error {
	for _, row := range report.Rows {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO reconciliation_rows (
				generated_at, status, client_order_id, ticket, symbol, mismatches
			) VALUES ($1, $2, $3, $4, $5, $6)
		`,
			report.GeneratedAt, string(row.Status), row.ClientOrderID, row.Ticket,
			row.Symbol, row.Mismatches,
		)
		if err != nil {
			return fmt.Errorf("reconcile store: insert row (ticket=%d): %w", row.Ticket, err)
		}
	}
	return nil
}

// MismatchCount returns the number of MISMATCH rows recorded since the
// given report generation, used by alerting thresholds.
func (s *Store) MismatchCount(ctx context.Context, since time.Time) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COUNT(*) FROM reconciliation_rows
		WHERE status = 'MISMATCH' AND generated_at >= $1
	`, since)
	if err != nil {
		return 0, fmt.Errorf("reconcile store: mismatch count: %w", err)
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("reconcile store: scan mismatch count: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
