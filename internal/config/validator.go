package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/luzhengheng/MT5-sub005/internal/secrets"
)

// ValidatorOptions contains options for configuration validation at startup.
type ValidatorOptions struct {
	VerifyConnectivity bool // check database/Redis connectivity
	VerifyKeys         bool // verify gateway credentials with the secrets backend
	Timeout            time.Duration
}

// DefaultValidatorOptions returns default validator options for startup.
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		VerifyConnectivity: true,
		VerifyKeys:         false, // enabled with the Launcher's --verify-keys flag
		Timeout:            5 * time.Second,
	}
}

// secretsChecker is the minimal capability the validator needs from a
// secrets client to run --verify-keys, narrowed so tests don't need a live
// Vault (spec §4.15 step 1's preflight).
type secretsChecker interface {
	GetGatewayCredentials(ctx context.Context) (*secrets.GatewayCredentials, error)
}

// Validator handles configuration validation at startup, beyond the static
// field-shape checks in Validate (spec §4.4): it additionally confirms the
// surrounding environment (production hardening, reachable dependencies,
// real secrets) before the Launcher starts trading.
type Validator struct {
	config  *Config
	options ValidatorOptions
	secrets secretsChecker
}

// NewValidator creates a new configuration validator. secrets may be nil if
// VerifyKeys is never requested.
func NewValidator(config *Config, options ValidatorOptions, secrets secretsChecker) *Validator {
	return &Validator{config: config, options: options, secrets: secrets}
}

// ValidateStartup performs comprehensive startup validation ahead of the
// Launcher's admission-artifact and canary-order steps.
func (v *Validator) ValidateStartup(ctx context.Context) error {
	log.Info().Msg("validating configuration")

	if err := v.config.Validate(); err != nil {
		return fmt.Errorf("static configuration validation failed: %w", err)
	}

	if err := v.validateProductionRequirements(); err != nil {
		return fmt.Errorf("production requirements validation failed: %w", err)
	}

	if v.options.VerifyConnectivity {
		if err := v.checkDatabaseConnectivity(ctx); err != nil {
			return fmt.Errorf("database connectivity check failed: %w", err)
		}
		if err := v.checkRedisConnectivity(ctx); err != nil {
			return fmt.Errorf("redis connectivity check failed: %w", err)
		}
	}

	if v.options.VerifyKeys {
		if err := v.verifyKeys(ctx); err != nil {
			return fmt.Errorf("key verification failed: %w", err)
		}
	}

	log.Info().Msg("configuration validation completed")
	return nil
}

// validateProductionRequirements enforces secrets-backend and TLS hardening
// that only applies outside development (spec §9: Vault-backed secrets are
// mandatory once live capital is at risk).
func (v *Validator) validateProductionRequirements() error {
	if v.config.App.Environment != "production" {
		return nil
	}

	var errs []string

	if v.config.Vault.Address == "" {
		errs = append(errs, "vault.address must be set in production")
	}
	if strings.Contains(v.config.Database.GetDSN(), "sslmode=disable") {
		errs = append(errs, "database sslmode cannot be disable in production")
	}
	if !v.config.Gateway.RequireRealAcc {
		errs = append(errs, "gateway.require_real_account must be true in production")
	}
	if isPlaceholderValue(v.config.Database.Password) {
		errs = append(errs, "database.password cannot be a placeholder value in production")
	}

	if len(errs) > 0 {
		return fmt.Errorf("production requirements not met:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// checkDatabaseConnectivity dials Postgres with a bounded timeout, distinct
// from the circuit-breaker-guarded pool the rest of the process uses, since
// this check must fail fast and loudly at startup rather than retry.
func (v *Validator) checkDatabaseConnectivity(ctx context.Context) error {
	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		connString = v.config.Database.GetDSN()
	}

	pool, err := pgxpool.New(connCtx, connString)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(connCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// checkRedisConnectivity dials Redis with a bounded timeout.
func (v *Validator) checkRedisConnectivity(ctx context.Context) error {
	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     v.config.Redis.GetRedisAddr(),
		Password: v.config.Redis.Password,
		DB:       v.config.Redis.DB,
	})
	defer client.Close()

	if err := client.Ping(connCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// verifyKeys resolves the broker account credentials through the secrets
// backend and rejects an obvious placeholder or demo server name, the
// --verify-keys-gated half of the Launcher's preflight (spec §4.15 step 1
// and step 4's server-name guard, checked early rather than only after
// GET_ACCOUNT).
func (v *Validator) verifyKeys(ctx context.Context) error {
	if v.secrets == nil {
		return fmt.Errorf("--verify-keys requested but no secrets client configured")
	}

	reqCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	creds, err := v.secrets.GetGatewayCredentials(reqCtx)
	if err != nil {
		return fmt.Errorf("resolve gateway credentials: %w", err)
	}

	if creds.AccountLogin == "" || creds.AccountPassword == "" {
		return fmt.Errorf("gateway credentials are incomplete")
	}
	if isPlaceholderValue(creds.AccountLogin) || isPlaceholderValue(creds.AccountPassword) {
		return fmt.Errorf("gateway credentials appear to be placeholder values")
	}
	if containsDemoOrBeta(creds.ServerName) {
		return fmt.Errorf("gateway server %q looks like a demo/beta environment", creds.ServerName)
	}

	log.Info().Str("server", creds.ServerName).Msg("gateway credentials verified")
	return nil
}

// containsDemoOrBeta matches the Launcher's own server-name guard (spec
// §4.15 step 4).
func containsDemoOrBeta(server string) bool {
	lower := strings.ToLower(server)
	return strings.Contains(lower, "demo") || strings.Contains(lower, "beta")
}

// isPlaceholderValue checks if a value is likely a placeholder rather than
// a real credential.
func isPlaceholderValue(value string) bool {
	lower := strings.ToLower(value)
	placeholders := []string{"your_", "changeme", "placeholder", "example", "test", "sample", "demo"}
	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
