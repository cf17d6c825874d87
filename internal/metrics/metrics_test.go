package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateDatabaseConnections(t *testing.T) {
	assert.NotPanics(t, func() {
		UpdateDatabaseConnections(10, 3)
		UpdateDatabaseConnections(0, 0)
	})
}

func TestRecordError(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError("timeout", "gateway")
	})
}

func TestRecordDatabaseQuery(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordDatabaseQuery("select", 12.5)
	})
}

func TestRecordTrade(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordTrade(150.0)
		RecordTrade(-75.0)
		RecordTrade(0)
	})
}

func TestUpdatePositionValue(t *testing.T) {
	assert.NotPanics(t, func() {
		UpdatePositionValue("EURUSD", 25000.0)
	})
}

func TestRecordRedisOperation(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordRedisOperation("get")
		RecordRedisOperation("set")
	})
}

func TestUpdateCircuitBreaker(t *testing.T) {
	assert.NotPanics(t, func() {
		UpdateCircuitBreaker(true)
		UpdateCircuitBreaker(false)
	})
}

func TestNormalizeCircuitBreakerReason(t *testing.T) {
	cases := map[string]string{
		"MAX_DRAWDOWN exceeded":    ReasonMaxDrawdown,
		"high volatility detected": ReasonHighVolatility,
		"rate limit hit":           ReasonRateLimit,
		"LATENCY_SPIKE":            ReasonLatencySpike,
		"DRIFT_DETECTED":           ReasonDrift,
		"manual halt requested":    ReasonManualHalt,
		"something unexpected":     ReasonOther,
	}
	for reason, want := range cases {
		assert.Equal(t, want, NormalizeCircuitBreakerReason(reason))
	}
}

func TestRecordCircuitBreakerTrip(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordCircuitBreakerTrip("LATENCY_SPIKE")
	})
}

func TestRecordGatewayCall(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordGatewayCall("OPEN_ORDER", 45.0, nil)
		RecordGatewayCall("OPEN_ORDER", 45.0, errors.New("connection reset"))
	})
}

func TestNormalizeGatewayError(t *testing.T) {
	assert.Equal(t, "", NormalizeGatewayError(nil))
	assert.Equal(t, GatewayErrorTimeout, NormalizeGatewayError(errors.New("context deadline exceeded")))
	assert.Equal(t, GatewayErrorNetwork, NormalizeGatewayError(errors.New("connection refused")))
	assert.Equal(t, GatewayErrorOther, NormalizeGatewayError(errors.New("weird")))
}

func TestRecordOrderExecution(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordOrderExecution(320.5)
	})
}

func TestRecordAuditLog(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordAuditLog("ORDER_PLACED", true, 2.5)
		RecordAuditLog("ORDER_PLACED", false, 2.5)
	})
}

func TestRecordAdmissionDecision(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordAdmissionDecision("GO")
		RecordAdmissionDecision("NO-GO")
	})
}

func TestRecordReconciliationMismatch(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordReconciliationMismatch("GHOST")
	})
}
