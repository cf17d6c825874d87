package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/luzhengheng/MT5-sub005/internal/alerts"
	"github.com/luzhengheng/MT5-sub005/internal/breaker"
)

// Broker is the small interface symbol loops depend on, so tests can swap in
// a fake without a real socket (spec §4.2).
type Broker interface {
	OpenOrder(ctx context.Context, req OpenOrderRequest) (*OpenOrderResult, error)
	CloseOrder(ctx context.Context, ticket int64) (*CloseOrderResult, error)
	GetAccount(ctx context.Context) (*Account, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetHistory(ctx context.Context, since time.Time) ([]Deal, error)
	Heartbeat(ctx context.Context) error
}

// Client is the single request/reply connection to the broker adapter. The
// socket allows one in-flight request at a time; Client serializes access
// with an exclusive lock rather than multiplexing (spec §4.2, §5).
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	addr    string
	timeout time.Duration
	retry   RetryConfig
	limiter *rate.Limiter

	transient *breaker.TransientManager
	durable   *breaker.Manager

	requireReal bool
	onRoundTrip func(time.Duration)
	accountSF   singleflight.Group
	log         zerolog.Logger

	tradeModeMu sync.RWMutex
	tradeMode   TradeMode // cached from the last successful GET_ACCOUNT reply
}

// Config configures a Client.
type Config struct {
	Addr               string
	Timeout            time.Duration
	Retry              RetryConfig
	RateLimitPerSec    float64
	RequireRealAccount bool

	// OnRoundTrip, if set, is called with each completed round trip's
	// latency, letting C6's latency sensor observe gateway calls without
	// the client depending on it directly.
	OnRoundTrip func(time.Duration)
}

// NewClient dials addr and returns a ready Client. Dialing is eager so
// connection failures surface at startup rather than on the first order.
func NewClient(ctx context.Context, cfg Config, transient *breaker.TransientManager, durable *breaker.Manager, log zerolog.Logger) (*Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial gateway at %s: %w", cfg.Addr, err)
	}

	limit := cfg.RateLimitPerSec
	if limit <= 0 {
		limit = 20
	}

	return &Client{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		addr:        cfg.Addr,
		timeout:     cfg.Timeout,
		retry:       cfg.Retry,
		limiter:     rate.NewLimiter(rate.Limit(limit), int(limit)),
		transient:   transient,
		durable:     durable,
		requireReal: cfg.RequireRealAccount,
		onRoundTrip: cfg.OnRoundTrip,
		log:         log.With().Str("component", "gateway").Logger(),
	}, nil
}

var _ Broker = (*Client)(nil)

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// call sends req and waits for the correlated reply, discarding any reply
// whose req_id does not match and, for idempotent actions, re-sending the
// request after each discarded reply (spec §4.2). Holds the lock for the whole
// round trip since the protocol is strictly request/reply over one socket.
func (c *Client) call(ctx context.Context, action Action, payload map[string]any) (*Reply, error) {
	if c.durable.ShouldHalt() {
		return nil, fmt.Errorf("gateway call %s blocked: circuit breaker engaged: %s", action, c.durable.Reason())
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	cb := c.transient.Gateway()
	reply, err := withRetry(ctx, action, c.retry, func() (*Reply, error) {
		result, breakerErr := cb.Execute(func() (interface{}, error) {
			return c.roundTrip(ctx, action, payload)
		})
		if breakerErr != nil {
			c.transient.Metrics().RecordRequest("gateway", false)
			return nil, breakerErr
		}
		c.transient.Metrics().RecordRequest("gateway", true)
		return result.(*Reply), nil
	})
	if err != nil {
		return nil, err
	}

	if reply.Status == StatusError {
		if isBlockedReply(reply) {
			alerts.GatewayBlocked(ctx, string(action), reply.Error)
			_ = c.durable.Engage("GATEWAY_BLOCKED", map[string]string{"action": string(action), "error": reply.Error})
		}
		return reply, fmt.Errorf("gateway %s returned ERROR: %s", action, reply.Error)
	}

	return reply, nil
}

func isBlockedReply(reply *Reply) bool {
	return reply.Error == "BLOCKED" || reply.Data["blocked"] == true
}

func (c *Client) roundTrip(ctx context.Context, action Action, payload map[string]any) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	if c.onRoundTrip != nil {
		defer func() { c.onRoundTrip(time.Since(start)) }()
	}

	req := Request{Action: action, ReqID: uuid.NewString(), Timestamp: nowUnix(), Payload: payload}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set gateway deadline: %w", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return nil, c.handleRoundTripError(fmt.Errorf("write gateway request: %w", err))
	}

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, c.handleRoundTripError(fmt.Errorf("read gateway reply: %w", err))
		}
		var reply Reply
		if err := json.Unmarshal(line, &reply); err != nil {
			return nil, fmt.Errorf("unmarshal gateway reply: %w", err)
		}
		if reply.ReqID != req.ReqID {
			c.log.Warn().Str("expected", req.ReqID).Str("got", reply.ReqID).Msg("discarding mismatched gateway reply")
			if IsIdempotent(action) {
				if _, err := c.conn.Write(append(data, '\n')); err != nil {
					return nil, c.handleRoundTripError(fmt.Errorf("write gateway request: %w", err))
				}
			}
			continue
		}
		return &reply, nil
	}
}

// handleRoundTripError closes and redials the socket when err stems from a
// request timeout, flushing whatever protocol state was left mid-frame on
// the wire (spec §4.2: "on expiry the socket is closed and recreated").
// Callers already hold c.mu, so reconnect is safe to call inline here.
func (c *Client) handleRoundTripError(err error) error {
	if !isTimeoutErr(err) {
		return err
	}
	if recErr := c.reconnect(); recErr != nil {
		c.log.Error().Err(recErr).Msg("failed to reconnect gateway socket after timeout")
		return fmt.Errorf("%w (reconnect failed: %v)", err, recErr)
	}
	return err
}

// reconnect closes the current socket and dials a fresh one to the same
// address. Must be called with c.mu held.
func (c *Client) reconnect() error {
	_ = c.conn.Close()
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(context.Background(), "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("reconnect to gateway at %s: %w", c.addr, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// cachedTradeMode returns the trade mode observed on the last successful
// GET_ACCOUNT reply, without contacting the broker.
func (c *Client) cachedTradeMode() TradeMode {
	c.tradeModeMu.RLock()
	defer c.tradeModeMu.RUnlock()
	return c.tradeMode
}

func (c *Client) setCachedTradeMode(mode TradeMode) {
	c.tradeModeMu.Lock()
	c.tradeMode = mode
	c.tradeModeMu.Unlock()
}

// verifyTradeModeGuard enforces the trade-mode guard (spec §4.2) against the
// cached trade mode, without issuing a GET_ACCOUNT call: any value other
// than REAL fails the action with a BLOCKED error and engages the breaker.
// A never-populated cache (no GET_ACCOUNT has succeeded yet) is treated as
// not REAL, since the guard exists to prevent silent demo-account trading.
func (c *Client) verifyTradeModeGuard(ctx context.Context, action Action) error {
	if !c.requireReal {
		return nil
	}
	mode := c.cachedTradeMode()
	if mode != TradeModeReal {
		alerts.GatewayBlocked(ctx, string(action), "trade_mode is not REAL")
		_ = c.durable.Engage("NON_REAL_TRADE_MODE", map[string]string{
			"trade_mode": string(mode),
			"action":     string(action),
		})
		return fmt.Errorf("gateway %s blocked: BLOCKED: trade_mode %q is not REAL", action, mode)
	}
	return nil
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
