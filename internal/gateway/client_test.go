package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luzhengheng/MT5-sub005/internal/breaker"
)

func testLogger() zerolog.Logger { return zerolog.New(os.Stderr) }

// fakeBroker is a minimal in-process stand-in for the broker adapter,
// handling one connection with a scriptable handler per action.
type fakeBroker struct {
	ln      net.Listener
	handler func(Request) Reply
}

func newFakeBroker(t *testing.T, handler func(Request) Reply) *fakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fb := &fakeBroker{ln: ln, handler: handler}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				return
			}
			reply := fb.handler(req)
			if reply.ReqID == "" {
				reply.ReqID = req.ReqID
			}
			data, _ := json.Marshal(reply)
			conn.Write(append(data, '\n'))
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return fb
}

func newTestClient(t *testing.T, addr string, requireReal bool) *Client {
	t.Helper()
	breakerMgr, err := breaker.NewManager(t.TempDir()+"/breaker.json", testLogger())
	require.NoError(t, err)
	transientMgr := breaker.NewTransientManager(nil, nil, nil)

	client, err := NewClient(context.Background(), Config{
		Addr:               addr,
		Timeout:            2 * time.Second,
		Retry:              DefaultRetryConfig(),
		RequireRealAccount: requireReal,
	}, transientMgr, breakerMgr, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_OpenOrderRoundTrip(t *testing.T) {
	fb := newFakeBroker(t, func(req Request) Reply {
		assert.Equal(t, ActionOpenOrder, req.Action)
		return Reply{Status: StatusSuccess, Data: map[string]any{"ticket": 1100000001, "price": 1.0921}}
	})

	client := newTestClient(t, fb.ln.Addr().String(), false)
	result, err := client.OpenOrder(context.Background(), OpenOrderRequest{Symbol: "EURUSD.s", Side: "BUY", Volume: 0.1})
	require.NoError(t, err)
	assert.EqualValues(t, 1100000001, result.Ticket)
}

func TestClient_GetAccountBlocksOnNonRealTradeMode(t *testing.T) {
	fb := newFakeBroker(t, func(req Request) Reply {
		return Reply{Status: StatusSuccess, Data: map[string]any{"trade_mode": "DEMO", "server_name": "Broker-Demo"}}
	})

	client := newTestClient(t, fb.ln.Addr().String(), true)
	_, err := client.GetAccount(context.Background())
	require.Error(t, err)
	assert.True(t, client.durable.ShouldHalt())
}

func TestClient_DiscardsMismatchedReqID(t *testing.T) {
	first := true
	fb := newFakeBroker(t, func(req Request) Reply {
		if first {
			first = false
			return Reply{ReqID: "stale-id", Status: StatusSuccess, Data: nil}
		}
		return Reply{Status: StatusSuccess, Data: map[string]any{}}
	})

	client := newTestClient(t, fb.ln.Addr().String(), false)
	err := client.Heartbeat(context.Background())
	require.NoError(t, err)
}

func TestClient_ErrorReplyReturnsError(t *testing.T) {
	fb := newFakeBroker(t, func(req Request) Reply {
		return Reply{Status: StatusError, Error: "invalid volume"}
	})

	client := newTestClient(t, fb.ln.Addr().String(), false)
	_, err := client.OpenOrder(context.Background(), OpenOrderRequest{Symbol: "EURUSD.s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid volume")
}

func TestClient_OnRoundTripObservesLatency(t *testing.T) {
	fb := newFakeBroker(t, func(req Request) Reply {
		return Reply{Status: StatusSuccess, Data: map[string]any{}}
	})

	breakerMgr, err := breaker.NewManager(t.TempDir()+"/breaker.json", testLogger())
	require.NoError(t, err)
	transientMgr := breaker.NewTransientManager(nil, nil, nil)

	var observed time.Duration
	client, err := NewClient(context.Background(), Config{
		Addr:    fb.ln.Addr().String(),
		Timeout: 2 * time.Second,
		Retry:   DefaultRetryConfig(),
		OnRoundTrip: func(d time.Duration) {
			observed = d
		},
	}, transientMgr, breakerMgr, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Heartbeat(context.Background()))
	assert.GreaterOrEqual(t, observed, time.Duration(0))
}

func TestClient_OpenOrderBlockedWithoutCachedRealTradeMode(t *testing.T) {
	fb := newFakeBroker(t, func(req Request) Reply {
		return Reply{Status: StatusSuccess, Data: map[string]any{"ticket": 1, "price": 1.0}}
	})

	client := newTestClient(t, fb.ln.Addr().String(), true)
	_, err := client.OpenOrder(context.Background(), OpenOrderRequest{Symbol: "EURUSD.s", Side: "BUY", Volume: 0.1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BLOCKED")
	assert.True(t, client.durable.ShouldHalt())
}

func TestClient_OpenOrderProceedsAfterCachedRealTradeMode(t *testing.T) {
	fb := newFakeBroker(t, func(req Request) Reply {
		switch req.Action {
		case ActionGetAccount:
			return Reply{Status: StatusSuccess, Data: map[string]any{"trade_mode": "REAL", "server_name": "Broker-Real-01"}}
		case ActionOpenOrder:
			return Reply{Status: StatusSuccess, Data: map[string]any{"ticket": 1, "price": 1.0921}}
		}
		return Reply{Status: StatusError, Error: "unexpected action"}
	})

	client := newTestClient(t, fb.ln.Addr().String(), true)
	_, err := client.GetAccount(context.Background())
	require.NoError(t, err)

	result, err := client.OpenOrder(context.Background(), OpenOrderRequest{Symbol: "EURUSD.s", Side: "BUY", Volume: 0.1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Ticket)
}

func TestClient_RoundTripReconnectsSocketOnTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	breakerMgr, err := breaker.NewManager(t.TempDir()+"/breaker.json", testLogger())
	require.NoError(t, err)
	transientMgr := breaker.NewTransientManager(nil, nil, nil)

	client, err := NewClient(context.Background(), Config{
		Addr:    ln.Addr().String(),
		Timeout: 50 * time.Millisecond,
		Retry:   DefaultRetryConfig(),
	}, transientMgr, breakerMgr, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	<-accepted // drain the initial connection the server accepted at dial time

	_, err = client.roundTrip(context.Background(), ActionHeartbeat, nil)
	require.Error(t, err)

	select {
	case <-accepted:
		// a second accept proves the client closed and redialed the socket
	case <-time.After(time.Second):
		t.Fatal("expected client to redial after timeout")
	}
}

func TestClient_GetAccountDedupsConcurrentCalls(t *testing.T) {
	fb := newFakeBroker(t, func(req Request) Reply {
		return Reply{Status: StatusSuccess, Data: map[string]any{"trade_mode": "REAL", "server_name": "Broker-Real-01"}}
	})

	client := newTestClient(t, fb.ln.Addr().String(), false)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetAccount(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
