// Package metrics holds process-wide Prometheus metric definitions and the
// cross-symbol aggregator (C11, spec §4.11).
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels. These keep label sets
// finite regardless of what free-text reason strings callers pass in.
const (
	ReasonMaxDrawdown    = "max_drawdown"
	ReasonHighVolatility = "high_volatility"
	ReasonRateLimit      = "rate_limit"
	ReasonLatencySpike   = "latency_spike"
	ReasonDrift          = "drift_detected"
	ReasonManualHalt     = "manual_halt"
	ReasonOther          = "other"

	GatewayErrorTimeout     = "timeout"
	GatewayErrorRateLimit   = "rate_limit"
	GatewayErrorAuth        = "authentication"
	GatewayErrorNetwork     = "network"
	GatewayErrorInvalidReq  = "invalid_request"
	GatewayErrorServerError = "server_error"
	GatewayErrorOther       = "other"
)

// NormalizeCircuitBreakerReason maps an arbitrary engage reason to the
// bounded set above so the breaker metric's label cardinality stays finite.
func NormalizeCircuitBreakerReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "drawdown"):
		return ReasonMaxDrawdown
	case strings.Contains(lower, "volatility"):
		return ReasonHighVolatility
	case strings.Contains(lower, "rate") || strings.Contains(lower, "limit"):
		return ReasonRateLimit
	case strings.Contains(lower, "latency"):
		return ReasonLatencySpike
	case strings.Contains(lower, "drift"):
		return ReasonDrift
	case strings.Contains(lower, "manual") || strings.Contains(lower, "halt"):
		return ReasonManualHalt
	default:
		return ReasonOther
	}
}

// NormalizeGatewayError maps an arbitrary gateway error to a bounded
// category for the error-rate metric.
func NormalizeGatewayError(err error) string {
	if err == nil {
		return ""
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return GatewayErrorTimeout
	case strings.Contains(lower, "rate") || strings.Contains(lower, "429"):
		return GatewayErrorRateLimit
	case strings.Contains(lower, "auth") || strings.Contains(lower, "401") || strings.Contains(lower, "403"):
		return GatewayErrorAuth
	case strings.Contains(lower, "network") || strings.Contains(lower, "connection"):
		return GatewayErrorNetwork
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid"):
		return GatewayErrorInvalidReq
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503"):
		return GatewayErrorServerError
	default:
		return GatewayErrorOther
	}
}

// Trading performance metrics
var (
	TotalPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mt5crs_total_pnl",
		Help: "Total profit and loss in account currency",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mt5crs_open_positions",
		Help: "Number of currently open positions",
	})

	TotalTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mt5crs_total_trades",
		Help: "Total number of trades executed",
	})

	PositionValueBySymbol = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mt5crs_position_value_by_symbol",
		Help: "Position exposure value by trading symbol",
	}, []string{"symbol"})

	PnLBySymbol = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mt5crs_pnl_by_symbol",
		Help: "Cumulative profit and loss by trading symbol",
	}, []string{"symbol"})

	WinningTradesValue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mt5crs_winning_trades_value",
		Help: "Total value of winning trades",
	})

	LosingTradesValue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mt5crs_losing_trades_value",
		Help: "Total value (absolute) of losing trades",
	})
)

// System health metrics
var (
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mt5crs_database_connections_active",
		Help: "Number of active database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mt5crs_database_connections_idle",
		Help: "Number of idle database connections",
	})

	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mt5crs_redis_cache_hit_rate",
		Help: "Tick-cache hit rate as a ratio (0.0 to 1.0)",
	})

	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5crs_redis_operations_total",
		Help: "Total number of Redis operations by type",
	}, []string{"operation"})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mt5crs_database_query_duration_ms",
		Help:    "Database query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"query_type"})

	NATSMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mt5crs_nats_messages_received_total",
		Help: "Total number of NATS market-data messages received",
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5crs_errors_total",
		Help: "Total number of errors by type and component",
	}, []string{"type", "component"})
)

// Circuit breaker metrics
var (
	CircuitBreakerStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mt5crs_circuit_breaker_status",
		Help: "Circuit breaker status (1 = engaged, 0 = clear)",
	})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5crs_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker engagements by reason",
	}, []string{"reason"})
)

// Audit metrics
var (
	AuditLogOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5crs_audit_log_operations_total",
		Help: "Total number of audit log operations by event type and status",
	}, []string{"event_type", "status"})

	AuditLogFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5crs_audit_log_failures_total",
		Help: "Total number of audit log failures by error type",
	}, []string{"error_type", "event_type"})

	AuditLogLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mt5crs_audit_log_latency_ms",
		Help:    "Audit log operation latency in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})
)

// Gateway metrics
var (
	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mt5crs_gateway_latency_ms",
		Help:    "Gateway request/reply round-trip latency in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"action"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5crs_gateway_errors_total",
		Help: "Total gateway request errors by normalized category",
	}, []string{"error_type"})

	OrderExecutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mt5crs_order_execution_latency_ms",
		Help:    "Order execution latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000},
	})

	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5crs_admission_decisions_total",
		Help: "Total admission decisions by outcome",
	}, []string{"outcome"})

	ReconciliationMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5crs_reconciliation_mismatches_total",
		Help: "Total reconciliation mismatches by kind",
	}, []string{"kind"})
)

// Helper functions to update metrics

// UpdateDatabaseConnections updates database connection gauges.
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordError records an error occurrence.
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordDatabaseQuery records a database query's duration.
func RecordDatabaseQuery(queryType string, durationMs float64) {
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(durationMs)
}

// RecordTrade records a completed trade's realized PnL against the global
// win/loss counters. Per-symbol bookkeeping goes through Aggregator.RecordTrade.
func RecordTrade(profitLoss float64) {
	TotalTrades.Inc()
	if profitLoss > 0 {
		WinningTradesValue.Add(profitLoss)
	} else {
		LosingTradesValue.Add(-profitLoss)
	}
}

// UpdatePositionValue sets the exposure gauge for a symbol.
func UpdatePositionValue(symbol string, value float64) {
	PositionValueBySymbol.WithLabelValues(symbol).Set(value)
}

// RecordRedisOperation records a tick-cache operation by type.
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// UpdateCircuitBreaker sets the breaker status gauge.
func UpdateCircuitBreaker(engaged bool) {
	status := 0.0
	if engaged {
		status = 1.0
	}
	CircuitBreakerStatus.Set(status)
}

// RecordCircuitBreakerTrip records an engagement with its normalized reason.
func RecordCircuitBreakerTrip(reason string) {
	CircuitBreakerTrips.WithLabelValues(NormalizeCircuitBreakerReason(reason)).Inc()
}

// RecordGatewayCall records a gateway round trip and, on error, its
// normalized error category.
func RecordGatewayCall(action string, durationMs float64, err error) {
	GatewayLatency.WithLabelValues(action).Observe(durationMs)
	if err != nil {
		GatewayErrors.WithLabelValues(NormalizeGatewayError(err)).Inc()
	}
}

// RecordOrderExecution records order execution latency.
func RecordOrderExecution(durationMs float64) {
	OrderExecutionLatency.Observe(durationMs)
}

// RecordAuditLog records an audit log operation's outcome and latency.
func RecordAuditLog(eventType string, success bool, durationMs float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	AuditLogOperations.WithLabelValues(eventType, status).Inc()
	AuditLogLatency.Observe(durationMs)
}

// RecordAuditLogFailure records an audit log failure by error type.
func RecordAuditLogFailure(errorType, eventType string) {
	AuditLogFailures.WithLabelValues(errorType, eventType).Inc()
}

// RecordAdmissionDecision records an admission outcome (GO/NO-GO/WARNING).
func RecordAdmissionDecision(outcome string) {
	AdmissionDecisions.WithLabelValues(outcome).Inc()
}

// RecordReconciliationMismatch records a reconciliation mismatch by kind
// (MISMATCH/GHOST/ORPHAN).
func RecordReconciliationMismatch(kind string) {
	ReconciliationMismatches.WithLabelValues(kind).Inc()
}
