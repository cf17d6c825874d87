// Package breaker implements the Runtime Guardian's halt mechanisms: a
// durable, sticky circuit breaker (Manager) that is the system-wide authority
// on whether order submission is allowed, and a set of transient,
// self-healing breakers (TransientManager) that protect individual service
// calls (gateway actions, database queries) from cascading failure without
// engaging the durable breaker.
package breaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Service result labels for transient-breaker metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Default thresholds per protected service. These bound retries to a single
// misbehaving dependency; they are unrelated to C1's sticky halt.
const (
	GatewayMinRequests     = 5
	GatewayFailureRatio    = 0.6
	GatewayOpenTimeout     = 15 * time.Second
	GatewayHalfOpenMaxReqs = 3
	GatewayCountInterval   = 10 * time.Second

	DatabaseMinRequests     = 10
	DatabaseFailureRatio    = 0.6
	DatabaseOpenTimeout     = 15 * time.Second
	DatabaseHalfOpenMaxReqs = 5
	DatabaseCountInterval   = 10 * time.Second

	MarketDataMinRequests     = 5
	MarketDataFailureRatio    = 0.5
	MarketDataOpenTimeout     = 10 * time.Second
	MarketDataHalfOpenMaxReqs = 3
	MarketDataCountInterval   = 10 * time.Second
)

// ServiceSettings configures a single transient breaker.
type ServiceSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// TransientManager wraps gobreaker circuit breakers for the services whose
// hiccups should be absorbed locally rather than escalated to C1: every
// gateway round trip gateway.Client sends, whatever its action, database access
// for the reconciliation/admission stores, and market-data replay lookups.
type TransientManager struct {
	gateway    *gobreaker.CircuitBreaker
	database   *gobreaker.CircuitBreaker
	marketData *gobreaker.CircuitBreaker
	metrics    *TransientMetrics
}

// TransientMetrics holds Prometheus metrics shared by every TransientManager.
type TransientMetrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
}

var (
	globalTransientMetrics *TransientMetrics
	transientMetricsOnce   sync.Once
)

func initTransientMetrics() {
	transientMetricsOnce.Do(func() {
		globalTransientMetrics = &TransientMetrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "mt5crs_transient_breaker_state",
					Help: "Transient breaker state (0=closed, 1=open, 2=half_open)",
				},
				[]string{"service"},
			),
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mt5crs_transient_breaker_requests_total",
					Help: "Total requests observed by a transient breaker",
				},
				[]string{"service", "result"},
			),
			failures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mt5crs_transient_breaker_failures_total",
					Help: "Total failures observed by a transient breaker",
				},
				[]string{"service"},
			),
		}
	})
}

// NewTransientManager builds the three transient breakers with default
// settings, falling back per-service when a settings pointer is nil.
func NewTransientManager(gatewaySettings, databaseSettings, marketDataSettings *ServiceSettings) *TransientManager {
	initTransientMetrics()

	m := &TransientManager{metrics: globalTransientMetrics}

	if gatewaySettings == nil {
		gatewaySettings = &ServiceSettings{
			MinRequests: GatewayMinRequests, FailureRatio: GatewayFailureRatio,
			OpenTimeout: GatewayOpenTimeout, HalfOpenMaxReqs: GatewayHalfOpenMaxReqs,
			CountInterval: GatewayCountInterval,
		}
	}
	if databaseSettings == nil {
		databaseSettings = &ServiceSettings{
			MinRequests: DatabaseMinRequests, FailureRatio: DatabaseFailureRatio,
			OpenTimeout: DatabaseOpenTimeout, HalfOpenMaxReqs: DatabaseHalfOpenMaxReqs,
			CountInterval: DatabaseCountInterval,
		}
	}
	if marketDataSettings == nil {
		marketDataSettings = &ServiceSettings{
			MinRequests: MarketDataMinRequests, FailureRatio: MarketDataFailureRatio,
			OpenTimeout: MarketDataOpenTimeout, HalfOpenMaxReqs: MarketDataHalfOpenMaxReqs,
			CountInterval: MarketDataCountInterval,
		}
	}

	m.gateway = newBreaker(m, "gateway", gatewaySettings)
	m.database = newBreaker(m, "database", databaseSettings)
	m.marketData = newBreaker(m, "market_data", marketDataSettings)

	m.updateMetrics("gateway", m.gateway.State())
	m.updateMetrics("database", m.database.State())
	m.updateMetrics("market_data", m.marketData.State())

	return m
}

func newBreaker(m *TransientManager, name string, s *ServiceSettings) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenMaxReqs,
		Interval:    s.CountInterval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.updateMetrics(name, to)
		},
	})
}

// Gateway returns the breaker wrapping every gateway round trip.
func (m *TransientManager) Gateway() *gobreaker.CircuitBreaker { return m.gateway }

// Database returns the breaker protecting admission/reconciliation store access.
func (m *TransientManager) Database() *gobreaker.CircuitBreaker { return m.database }

// MarketData returns the breaker protecting market-data replay lookups.
func (m *TransientManager) MarketData() *gobreaker.CircuitBreaker { return m.marketData }

func (m *TransientManager) updateMetrics(service string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	m.metrics.state.WithLabelValues(service).Set(v)
}

// RecordRequest records a single call's outcome against the shared metrics.
func (m *TransientMetrics) RecordRequest(service string, success bool) {
	result := ResultSuccess
	if !success {
		result = ResultFailure
		m.failures.WithLabelValues(service).Inc()
	}
	m.requests.WithLabelValues(service, result).Inc()
}

// Metrics exposes the shared metrics instance for manual recording.
func (m *TransientManager) Metrics() *TransientMetrics { return m.metrics }
