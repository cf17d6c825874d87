// Package db wraps the Postgres connection pool shared by C13's admission
// history and C14's reconciliation report store (spec §10.4/§11: pgx, not
// the per-file admission artifact which is the source of truth for a single
// decision).
package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/luzhengheng/MT5-sub005/internal/breaker"
)

// DB wraps the PostgreSQL connection pool, with writes optionally routed
// through a transient breaker so a Postgres outage degrades to fast errors
// instead of hanging callers (spec §7's "transient vs durable" error split).
type DB struct {
	pool     *pgxpool.Pool
	circuits *breaker.TransientManager
	log      zerolog.Logger
}

// New creates a new database connection pool from DATABASE_URL. Credential
// resolution (Vault vs. plain env) belongs to C4/C15, not this package — the
// caller is expected to have already resolved the secret into the env var or
// connection string it passes along.
func New(ctx context.Context, databaseURL string, circuits *breaker.TransientManager, log zerolog.Logger) (*DB, error) {
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("database url not provided and DATABASE_URL not set")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{
		pool:     pool,
		circuits: circuits,
		log:      log.With().Str("component", "db").Logger(),
	}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
		db.log.Info().Msg("database connection pool closed")
	}
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	if db.pool == nil {
		return fmt.Errorf("database connection pool is nil")
	}
	return db.pool.Ping(ctx)
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// SetPool overrides the connection pool, used by tests wiring pgxmock.
func (db *DB) SetPool(pool *pgxpool.Pool) {
	db.pool = pool
}

// ExecuteWithCircuitBreaker runs operation through the shared transient
// database breaker, if one was configured, so repeated Postgres failures
// trip open locally rather than piling up blocked callers.
func (db *DB) ExecuteWithCircuitBreaker(operation func() (interface{}, error)) (interface{}, error) {
	if db.circuits == nil {
		return operation()
	}

	result, err := db.circuits.Database().Execute(operation)
	if err != nil {
		if err == gobreaker.ErrOpenState {
			db.circuits.Metrics().RecordRequest("database", false)
			return nil, fmt.Errorf("database circuit breaker open, service unavailable")
		}
		db.circuits.Metrics().RecordRequest("database", false)
		return nil, err
	}

	db.circuits.Metrics().RecordRequest("database", true)
	return result, nil
}
