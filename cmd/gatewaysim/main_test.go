package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luzhengheng/MT5-sub005/internal/gateway"
)

func newTestSimulator() *simulator {
	return &simulator{
		tradeMode:      gateway.TradeModeReal,
		serverName:     "GatewaySim-Real-01",
		serviceVersion: "1.0.0",
		balance:        10000,
		equity:         10000,
		basePrice:      1.1000,
		rng:            rand.New(rand.NewSource(1)),
	}
}

func TestSimulator_OpenOrderAssignsIncrementingTickets(t *testing.T) {
	s := newTestSimulator()
	payload := map[string]any{"symbol": "EURUSD.s", "side": "BUY", "volume": 0.01}

	status1, data1, _ := s.openOrder(payload)
	status2, data2, _ := s.openOrder(payload)

	require.Equal(t, gateway.StatusSuccess, status1)
	require.Equal(t, gateway.StatusSuccess, status2)
	assert.NotEqual(t, data1["ticket"], data2["ticket"])
}

func TestSimulator_OpenOrderRejectsNonPositiveVolume(t *testing.T) {
	s := newTestSimulator()
	status, _, errCode := s.openOrder(map[string]any{"symbol": "EURUSD.s", "side": "BUY", "volume": 0.0})
	assert.Equal(t, gateway.StatusError, status)
	assert.Equal(t, "INVALID_VOLUME", errCode)
}

func TestSimulator_HistorySinceFiltersByOpenTime(t *testing.T) {
	s := newTestSimulator()
	_, _, _ = s.openOrder(map[string]any{"symbol": "EURUSD.s", "side": "BUY", "volume": 0.01})

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	deals := s.historySince(map[string]any{"since": future})
	assert.Empty(t, deals)

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	deals = s.historySince(map[string]any{"since": past})
	assert.Len(t, deals, 1)
}

func TestSimulator_AccountPayloadReportsConfiguredTradeMode(t *testing.T) {
	s := newTestSimulator()
	payload := s.accountPayload()
	assert.Equal(t, gateway.TradeModeReal, payload["trade_mode"])
	assert.Equal(t, "GatewaySim-Real-01", payload["server_name"])
}

func TestSimulator_HandleUnknownActionReturnsError(t *testing.T) {
	s := newTestSimulator()
	reply := s.handle(gateway.Request{Action: gateway.Action("BOGUS"), ReqID: "r1"})
	assert.Equal(t, gateway.StatusError, reply.Status)
	assert.Equal(t, "UNKNOWN_ACTION", reply.Error)
}
