package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// symbolPattern matches broker symbol names such as EURUSD.s or XAUUSD.m
// (spec §4.4: symbols are 3-8 uppercase letters with an optional suffix).
var symbolPattern = regexp.MustCompile(`^[A-Z]{3,8}(\.[a-z])?$`)

// Validate performs comprehensive configuration validation (spec §4.4).
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateApp()...)
	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateMarketData()...)
	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateRedis()...)
	errs = append(errs, c.validateRisk()...)
	errs = append(errs, c.validateLatency()...)
	errs = append(errs, c.validateDrift()...)
	errs = append(errs, c.validateAdmission()...)
	errs = append(errs, c.validateBreaker()...)
	errs = append(errs, c.validateLaunch()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errs ValidationErrors

	validEnvs := []string{"development", "staging", "production"}
	valid := false
	for _, env := range validEnvs {
		if c.App.Environment == env {
			valid = true
			break
		}
	}
	if !valid {
		errs = append(errs, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("invalid environment %q, must be one of %v", c.App.Environment, validEnvs),
		})
	}

	if len(c.App.Symbols) == 0 {
		errs = append(errs, ValidationError{Field: "app.symbols", Message: "at least one symbol is required"})
	}
	for _, sym := range c.App.Symbols {
		if !symbolPattern.MatchString(sym) {
			errs = append(errs, ValidationError{
				Field:   "app.symbols",
				Message: fmt.Sprintf("symbol %q does not match required pattern %s", sym, symbolPattern.String()),
			})
		}
	}

	return errs
}

func (c *Config) validateGateway() ValidationErrors {
	var errs ValidationErrors

	if _, _, err := net.SplitHostPort(c.Gateway.Endpoint); err != nil {
		errs = append(errs, ValidationError{
			Field:   "gateway.endpoint",
			Message: fmt.Sprintf("must be a host:port address: %v", err),
		})
	}

	if c.Gateway.TimeoutMS <= 0 {
		errs = append(errs, ValidationError{Field: "gateway.timeout_ms", Message: "must be positive"})
	}
	if c.Gateway.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "gateway.max_retries", Message: "must not be negative"})
	}

	return errs
}

func (c *Config) validateMarketData() ValidationErrors {
	var errs ValidationErrors

	if c.MarketData.BufferSize <= 0 {
		errs = append(errs, ValidationError{Field: "market_data.buffer_size", Message: "must be positive"})
	}
	if c.MarketData.LagEngageHigh <= 0 {
		errs = append(errs, ValidationError{Field: "market_data.lag_engage_threshold", Message: "must be positive"})
	}

	return errs
}

func (c *Config) validateDatabase() ValidationErrors {
	var errs ValidationErrors

	if c.Database.Host == "" {
		errs = append(errs, ValidationError{Field: "database.host", Message: "is required"})
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("invalid port %d, must be between 1-65535", c.Database.Port),
		})
	}
	if c.Database.User == "" {
		errs = append(errs, ValidationError{Field: "database.user", Message: "is required"})
	}
	if c.Database.Database == "" {
		errs = append(errs, ValidationError{Field: "database.database", Message: "is required"})
	}
	if c.Database.Password == "" && c.App.Environment != "development" {
		errs = append(errs, ValidationError{
			Field:   "database.password",
			Message: "is required in non-development environments",
		})
	}
	if c.Database.PoolSize < 1 {
		errs = append(errs, ValidationError{Field: "database.pool_size", Message: "must be at least 1"})
	}

	return errs
}

func (c *Config) validateRedis() ValidationErrors {
	var errs ValidationErrors

	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("invalid port %d, must be between 1-65535", c.Redis.Port),
		})
	}

	return errs
}

// fraction01 reports whether v lies in the open interval (0, 1).
func fraction01(v float64) bool { return v > 0 && v < 1 }

func (c *Config) validateRisk() ValidationErrors {
	var errs ValidationErrors

	if !fraction01(c.Risk.MaxDrawdown) {
		errs = append(errs, ValidationError{Field: "risk.max_drawdown", Message: "must be in (0, 1)"})
	}
	if !fraction01(c.Risk.DrawdownWarning) {
		errs = append(errs, ValidationError{Field: "risk.drawdown_warning", Message: "must be in (0, 1)"})
	}
	if c.Risk.DrawdownWarning >= c.Risk.MaxDrawdown {
		errs = append(errs, ValidationError{Field: "risk.drawdown_warning", Message: "must be less than risk.max_drawdown"})
	}
	if c.Risk.MaxLeverage <= 0 {
		errs = append(errs, ValidationError{Field: "risk.max_leverage", Message: "must be positive"})
	}
	if c.Risk.LeverageWarning <= 0 {
		errs = append(errs, ValidationError{Field: "risk.leverage_warning", Message: "must be positive"})
	}
	if c.Risk.LeverageWarning >= c.Risk.MaxLeverage {
		errs = append(errs, ValidationError{Field: "risk.leverage_warning", Message: "must be less than risk.max_leverage"})
	}
	if !fraction01(c.Risk.RiskPerTrade) {
		errs = append(errs, ValidationError{Field: "risk.risk_per_trade", Message: "must be in (0, 1)"})
	}
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, ValidationError{Field: "risk.max_position_size", Message: "must be positive"})
	}
	if c.Risk.PositionCoefficient < 0 || c.Risk.PositionCoefficient > 1 {
		errs = append(errs, ValidationError{Field: "risk.position_coefficient", Message: "must be in [0, 1]"})
	}

	return errs
}

func (c *Config) validateLatency() ValidationErrors {
	var errs ValidationErrors

	if c.Latency.WindowSize < 2 {
		errs = append(errs, ValidationError{Field: "latency.window_size", Message: "must be at least 2"})
	}
	if c.Latency.WarningMS <= 0 || c.Latency.CriticalMS <= 0 {
		errs = append(errs, ValidationError{Field: "latency", Message: "warning_ms and critical_ms must be positive"})
	}
	if c.Latency.WarningMS >= c.Latency.CriticalMS {
		errs = append(errs, ValidationError{Field: "latency.warning_ms", Message: "must be less than critical_ms"})
	}
	if c.Latency.SpikeEngageCount < 1 {
		errs = append(errs, ValidationError{Field: "latency.spike_engage_count", Message: "must be at least 1"})
	}

	return errs
}

func (c *Config) validateDrift() ValidationErrors {
	var errs ValidationErrors

	if c.Drift.ReferenceWindow < 1 || c.Drift.CurrentWindow < 1 {
		errs = append(errs, ValidationError{Field: "drift", Message: "reference_window and current_window must be positive"})
	}
	if c.Drift.Buckets < 2 {
		errs = append(errs, ValidationError{Field: "drift.buckets", Message: "must be at least 2"})
	}
	if c.Drift.PSIThreshold <= 0 {
		errs = append(errs, ValidationError{Field: "drift.psi_threshold", Message: "must be positive"})
	}
	if c.Drift.EventsPerDayMax < 1 {
		errs = append(errs, ValidationError{Field: "drift.events_per_day_max", Message: "must be at least 1"})
	}

	return errs
}

func (c *Config) validateAdmission() ValidationErrors {
	var errs ValidationErrors

	if c.Admission.MaxP99MS <= 0 {
		errs = append(errs, ValidationError{Field: "admission.max_p99_ms", Message: "must be positive"})
	}
	if !fraction01(c.Admission.MinChallengerF1) {
		errs = append(errs, ValidationError{Field: "admission.min_challenger_f1", Message: "must be in (0, 1)"})
	}
	if !fraction01(c.Admission.MinDiversityIndex) {
		errs = append(errs, ValidationError{Field: "admission.min_diversity_index", Message: "must be in (0, 1)"})
	}
	if !fraction01(c.Admission.WarningPenalty) {
		errs = append(errs, ValidationError{Field: "admission.warning_penalty", Message: "must be in (0, 1)"})
	}

	return errs
}

func (c *Config) validateBreaker() ValidationErrors {
	var errs ValidationErrors

	if c.Breaker.FilePath == "" {
		errs = append(errs, ValidationError{Field: "breaker.file_path", Message: "is required"})
	}

	return errs
}

// validateLaunch checks the Launcher's startup-sequence settings (spec
// §4.15), including that min_gateway_version parses as a semver constraint
// the Launcher can evaluate against HEARTBEAT's reported service version.
func (c *Config) validateLaunch() ValidationErrors {
	var errs ValidationErrors

	if c.Launch.ArtifactPath == "" {
		errs = append(errs, ValidationError{Field: "launch.artifact_path", Message: "is required"})
	}
	if c.Launch.InitialCoefficient <= 0 || c.Launch.InitialCoefficient > 1 {
		errs = append(errs, ValidationError{Field: "launch.initial_coefficient", Message: "must be in (0, 1]"})
	}
	if !symbolPattern.MatchString(c.Launch.CanarySymbol) {
		errs = append(errs, ValidationError{
			Field:   "launch.canary_symbol",
			Message: fmt.Sprintf("does not match required pattern %s", symbolPattern.String()),
		})
	}
	if c.Launch.CanarySide != "BUY" && c.Launch.CanarySide != "SELL" {
		errs = append(errs, ValidationError{Field: "launch.canary_side", Message: `must be "BUY" or "SELL"`})
	}
	if c.Launch.CanaryVolume <= 0 {
		errs = append(errs, ValidationError{Field: "launch.canary_volume", Message: "must be positive"})
	}
	if _, err := semver.NewConstraint(c.Launch.MinGatewayVersion); err != nil {
		errs = append(errs, ValidationError{
			Field:   "launch.min_gateway_version",
			Message: fmt.Sprintf("not a valid semver constraint: %v", err),
		})
	}

	return errs
}
