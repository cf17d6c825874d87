// Package config provides configuration management for the executor core.
package config

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/viper"
)

// Config holds all application configuration for a single executor instance.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Latency    LatencyConfig    `mapstructure:"latency"`
	Drift      DriftConfig      `mapstructure:"drift"`
	Admission  AdmissionConfig  `mapstructure:"admission"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Launch     LaunchConfig     `mapstructure:"launch"`
}

// AppConfig contains process-level settings.
type AppConfig struct {
	Name        string   `mapstructure:"name"`
	Environment string   `mapstructure:"environment"` // development, staging, production
	LogLevel    string   `mapstructure:"log_level"`
	LogFormat   string   `mapstructure:"log_format"` // "json" or "console"
	Symbols     []string `mapstructure:"symbols"`    // e.g. ["EURUSD.s", "XAUUSD.s"]
}

// GatewayConfig configures the broker adapter connection (spec §4.2).
type GatewayConfig struct {
	Endpoint       string `mapstructure:"endpoint"` // host:port
	TimeoutMS      int    `mapstructure:"timeout_ms"`
	MaxRetries     int    `mapstructure:"max_retries"`
	RequireRealAcc bool   `mapstructure:"require_real_account"`
}

// MarketDataConfig configures the tick subscriber (spec §4.3).
type MarketDataConfig struct {
	NATSUrl       string `mapstructure:"nats_url"`
	BufferSize    int    `mapstructure:"buffer_size"`
	LagEngageHigh int    `mapstructure:"lag_engage_threshold"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the market data replay cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RiskConfig contains account-level risk thresholds (spec §4.5).
type RiskConfig struct {
	MaxDrawdown         float64 `mapstructure:"max_drawdown"`         // e.g. 0.02
	DrawdownWarning     float64 `mapstructure:"drawdown_warning"`     // e.g. 0.015, must be < max_drawdown
	MaxLeverage         float64 `mapstructure:"max_leverage"`         // e.g. 5.0
	LeverageWarning     float64 `mapstructure:"leverage_warning"`     // e.g. 4.0, must be < max_leverage
	RiskPerTrade        float64 `mapstructure:"risk_per_trade"`       // e.g. 0.01
	MaxPositionSize     float64 `mapstructure:"max_position_size"`    // lots
	PositionCoefficient float64 `mapstructure:"position_coefficient"` // ramp, 0..1
}

// LatencyConfig contains latency sensor thresholds (spec §4.6).
type LatencyConfig struct {
	WindowSize        int     `mapstructure:"window_size"`
	WarningMS         float64 `mapstructure:"warning_ms"`
	CriticalMS        float64 `mapstructure:"critical_ms"`
	SpikeEngageCount  int     `mapstructure:"spike_engage_count"`
}

// DriftConfig contains distribution drift sensor thresholds (spec §4.7).
type DriftConfig struct {
	ReferenceWindow int     `mapstructure:"reference_window"`
	CurrentWindow   int     `mapstructure:"current_window"`
	Buckets         int     `mapstructure:"buckets"`
	Smoothing       float64 `mapstructure:"smoothing"`
	PSIThreshold    float64 `mapstructure:"psi_threshold"`
	EventsPerDayMax int     `mapstructure:"events_per_day_max"`
}

// AdmissionConfig contains the gate thresholds for canary promotion (spec §4.13).
type AdmissionConfig struct {
	MaxCriticalLatencyEvents int     `mapstructure:"max_critical_latency_events"`
	MaxP99MS                 float64 `mapstructure:"max_p99_ms"`
	MaxDriftEventsPerDay     int     `mapstructure:"max_drift_events_per_day"`
	MinChallengerF1          float64 `mapstructure:"min_challenger_f1"`
	MinDiversityIndex        float64 `mapstructure:"min_diversity_index"`
	WarningPenalty           float64 `mapstructure:"warning_penalty"`
}

// BreakerConfig locates the durable circuit breaker's lock file.
type BreakerConfig struct {
	FilePath string `mapstructure:"file_path"`
}

// MonitoringConfig contains observability settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// VaultConfig contains secrets-backend settings.
type VaultConfig struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// LaunchConfig configures the Launcher's startup sequence (spec §4.15).
type LaunchConfig struct {
	ArtifactPath        string  `mapstructure:"artifact_path"`        // admission decision artifact written by C13
	InitialCoefficient  float64 `mapstructure:"initial_coefficient"`  // seeded into the Signal Adapter, e.g. 0.1 for a first canary
	CanarySymbol        string  `mapstructure:"canary_symbol"`
	CanarySide          string  `mapstructure:"canary_side"` // "BUY" or "SELL"
	CanaryVolume        float64 `mapstructure:"canary_volume"`
	MinGatewayVersion   string  `mapstructure:"min_gateway_version"` // semver constraint on HEARTBEAT's service version
}

// Load loads configuration from an optional file path and environment
// variables (prefixed MT5CRS_) over built-in defaults. Precedence is
// env > YAML > defaults. No command-line flags are bound onto v, so CLI
// values do not override any configuration key.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("MT5CRS")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mt5crs-executor")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")
	v.SetDefault("app.symbols", []string{"EURUSD.s"})

	v.SetDefault("gateway.endpoint", "127.0.0.1:5555")
	v.SetDefault("gateway.timeout_ms", 2000)
	v.SetDefault("gateway.max_retries", 3)
	v.SetDefault("gateway.require_real_account", true)

	v.SetDefault("market_data.nats_url", "nats://localhost:4222")
	v.SetDefault("market_data.buffer_size", 1024)
	v.SetDefault("market_data.lag_engage_threshold", 1024)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "mt5crs")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("risk.max_drawdown", 0.02)
	v.SetDefault("risk.drawdown_warning", 0.015)
	v.SetDefault("risk.max_leverage", 5.0)
	v.SetDefault("risk.leverage_warning", 4.0)
	v.SetDefault("risk.risk_per_trade", 0.01)
	v.SetDefault("risk.max_position_size", 1.0)
	v.SetDefault("risk.position_coefficient", 1.0)

	v.SetDefault("latency.window_size", 100)
	v.SetDefault("latency.warning_ms", 50.0)
	v.SetDefault("latency.critical_ms", 100.0)
	v.SetDefault("latency.spike_engage_count", 3)

	v.SetDefault("drift.reference_window", 500)
	v.SetDefault("drift.current_window", 500)
	v.SetDefault("drift.buckets", 3)
	v.SetDefault("drift.smoothing", 0.0001)
	v.SetDefault("drift.psi_threshold", 0.25)
	v.SetDefault("drift.events_per_day_max", 5)

	v.SetDefault("admission.max_critical_latency_events", 0)
	v.SetDefault("admission.max_p99_ms", 100.0)
	v.SetDefault("admission.max_drift_events_per_day", 5)
	v.SetDefault("admission.min_challenger_f1", 0.5)
	v.SetDefault("admission.min_diversity_index", 0.4)
	v.SetDefault("admission.warning_penalty", 0.15)

	v.SetDefault("breaker.file_path", "/var/lib/mt5crs/breaker.json")

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	v.SetDefault("vault.address", "http://127.0.0.1:8200")
	v.SetDefault("vault.path", "secret/data/mt5crs")

	v.SetDefault("launch.artifact_path", "/var/lib/mt5crs/admission.json")
	v.SetDefault("launch.initial_coefficient", 0.1)
	v.SetDefault("launch.canary_symbol", "EURUSD.s")
	v.SetDefault("launch.canary_side", "BUY")
	v.SetDefault("launch.canary_volume", 0.01)
	v.SetDefault("launch.min_gateway_version", ">=1.0.0")
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
