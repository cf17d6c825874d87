package marketdata

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luzhengheng/MT5-sub005/internal/breaker"
)

func testLogger() zerolog.Logger { return zerolog.New(os.Stderr) }

func startTestNATS(t *testing.T) *server.Server {
	t.Helper()
	opts := &server.Options{Host: "127.0.0.1", Port: -1}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func testBreaker(t *testing.T) *breaker.Manager {
	m, err := breaker.NewManager(t.TempDir()+"/breaker.json", testLogger())
	require.NoError(t, err)
	return m
}

func publishTick(t *testing.T, ns *server.Server, subject string, tick Tick) {
	t.Helper()
	pub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer pub.Close()

	data, err := json.Marshal(tick)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(subject, data))
	require.NoError(t, pub.Flush())
}

func TestSubscriber_ReceivesAndBuffersTicks(t *testing.T) {
	ns := startTestNATS(t)
	sub, err := NewSubscriber(context.Background(), Config{
		NATSUrl:  ns.ClientURL(),
		Subjects: []string{"ticks.EURUSD.s"},
	}, nil, testBreaker(t), testLogger())
	require.NoError(t, err)
	defer sub.Close()

	publishTick(t, ns, "ticks.EURUSD.s", Tick{Symbol: "EURUSD.s", Bid: 1.0920, Ask: 1.0922, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		_, ok := sub.Latest(context.Background(), "ticks.EURUSD.s")
		return ok
	}, time.Second, 10*time.Millisecond)

	tick, ok := sub.Latest(context.Background(), "ticks.EURUSD.s")
	require.True(t, ok)
	assert.Equal(t, 1.0920, tick.Bid)
}

func TestSubscriber_FallsBackToReplayCache(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewReplayCache(redisClient, time.Minute)

	cache.Set(context.Background(), Tick{Symbol: "ticks.EURUSD.s", Bid: 1.1, Ask: 1.1002})

	ns := startTestNATS(t)
	sub, err := NewSubscriber(context.Background(), Config{
		NATSUrl:  ns.ClientURL(),
		Subjects: []string{"ticks.EURUSD.s"},
	}, cache, testBreaker(t), testLogger())
	require.NoError(t, err)
	defer sub.Close()

	tick, ok := sub.Latest(context.Background(), "ticks.EURUSD.s")
	require.True(t, ok, "empty buffer should fall back to the replay cache")
	assert.Equal(t, 1.1, tick.Bid)
}

func TestSubscriber_EngagesBreakerOnExcessiveDrop(t *testing.T) {
	ns := startTestNATS(t)
	durable := testBreaker(t)
	sub, err := NewSubscriber(context.Background(), Config{
		NATSUrl:       ns.ClientURL(),
		Subjects:      []string{"ticks.EURUSD.s"},
		BufferSize:    4,
		LagEngageHigh: 2,
	}, nil, durable, testLogger())
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 8; i++ {
		publishTick(t, ns, "ticks.EURUSD.s", Tick{Symbol: "EURUSD.s", Bid: float64(i)})
	}

	require.Eventually(t, func() bool {
		return durable.ShouldHalt()
	}, time.Second, 10*time.Millisecond)
}
