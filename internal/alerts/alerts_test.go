package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockAlerter struct {
	alerts []Alert
	err    error
}

func NewMockAlerter(err error) *MockAlerter {
	return &MockAlerter{alerts: make([]Alert, 0), err: err}
}

func (m *MockAlerter) Send(ctx context.Context, alert Alert) error {
	m.alerts = append(m.alerts, alert)
	return m.err
}

func TestManager_SendFansOutToAllChannels(t *testing.T) {
	a1 := NewMockAlerter(nil)
	a2 := NewMockAlerter(nil)
	m := NewManager(a1, a2)

	err := m.SendCritical(context.Background(), "title", "message", nil)
	require.NoError(t, err)
	assert.Len(t, a1.alerts, 1)
	assert.Len(t, a2.alerts, 1)
	assert.Equal(t, SeverityCritical, a1.alerts[0].Severity)
}

func TestManager_SendReturnsLastError(t *testing.T) {
	a1 := NewMockAlerter(errors.New("channel one down"))
	m := NewManager(a1)

	err := m.SendWarning(context.Background(), "title", "message", nil)
	assert.Error(t, err)
}

func TestNamedAlertSites(t *testing.T) {
	mock := NewMockAlerter(nil)
	prior := GetDefaultManager()
	defer SetDefaultManager(prior)
	SetDefaultManager(NewManager(mock))

	CircuitBreakerEngaged(context.Background(), "Drawdown 0.0271 exceeded 0.0200", map[string]string{"reason": "CRITICAL_DRAWDOWN"})
	GatewayBlocked(context.Background(), "OPEN_ORDER", "trade_mode != REAL")
	RiskBreach(context.Background(), "leverage", 6.4, 5.0)
	ReconciliationMismatch(context.Background(), 1100000002, "profit", 10.0, 10.02)
	LoopInstability(context.Background(), "EURUSD.s", 5)
	CanaryFailed(context.Background(), "canary order rejected")

	require.Len(t, mock.alerts, 6)
	for _, alert := range mock.alerts {
		assert.Equal(t, SeverityCritical, alert.Severity)
	}
}
