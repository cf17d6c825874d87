package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// decode re-marshals reply.Data through JSON into dst, since the broker
// adapter's reply payload is already a generic map.
func decode(data map[string]any, dst any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal reply data: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode reply data: %w", err)
	}
	return nil
}

func toPayload(v any) map[string]any {
	raw, _ := json.Marshal(v)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// OpenOrder submits a new order. Never retried automatically: a retry after
// a lost reply could double-submit a live order (spec §4.2). The trade-mode
// guard is checked against the cached GET_ACCOUNT reading before the broker
// is ever contacted.
func (c *Client) OpenOrder(ctx context.Context, req OpenOrderRequest) (*OpenOrderResult, error) {
	if err := c.verifyTradeModeGuard(ctx, ActionOpenOrder); err != nil {
		return nil, err
	}
	reply, err := c.call(ctx, ActionOpenOrder, toPayload(req))
	if err != nil {
		return nil, err
	}
	var result OpenOrderResult
	if err := decode(reply.Data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CloseOrder closes an open position by ticket. Also never retried, and
// subject to the same trade-mode guard as OpenOrder.
func (c *Client) CloseOrder(ctx context.Context, ticket int64) (*CloseOrderResult, error) {
	if err := c.verifyTradeModeGuard(ctx, ActionCloseOrder); err != nil {
		return nil, err
	}
	reply, err := c.call(ctx, ActionCloseOrder, map[string]any{"ticket": ticket})
	if err != nil {
		return nil, err
	}
	var result CloseOrderResult
	if err := decode(reply.Data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAccount retrieves account state, enforcing the trade-mode guard when
// RequireRealAccount is set: any reply whose trade_mode is not REAL then
// engages the breaker immediately
// (spec §4.2, §4.15 step 2). Concurrent callers (the Launcher's own
// verification and the risk monitor's poll loop routinely overlap at
// startup) share a single in-flight round trip via singleflight rather than
// each queuing for the gateway's exclusive socket lock.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	v, err, _ := c.accountSF.Do("get_account", func() (any, error) {
		reply, err := c.call(ctx, ActionGetAccount, nil)
		if err != nil {
			return nil, err
		}
		var acct Account
		if err := decode(reply.Data, &acct); err != nil {
			return nil, err
		}
		return &acct, nil
	})
	if err != nil {
		return nil, err
	}
	acct := v.(*Account)
	c.setCachedTradeMode(acct.TradeMode)

	if c.requireReal && acct.TradeMode != TradeModeReal {
		_ = c.durable.Engage("NON_REAL_TRADE_MODE", map[string]string{
			"trade_mode": string(acct.TradeMode),
			"server":     acct.ServerName,
		})
		return acct, fmt.Errorf("account trade_mode %q is not REAL", acct.TradeMode)
	}

	return acct, nil
}

// GetPositions retrieves open positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	reply, err := c.call(ctx, ActionGetPositions, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Positions []Position `json:"positions"`
	}
	if err := decode(reply.Data, &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

// GetHistory retrieves closed deals since the given time, used by the
// reconciliation engine (spec §4.14).
func (c *Client) GetHistory(ctx context.Context, since time.Time) ([]Deal, error) {
	reply, err := c.call(ctx, ActionGetHistory, map[string]any{"since": since.UTC().Format(time.RFC3339)})
	if err != nil {
		return nil, err
	}
	var out struct {
		Deals []Deal `json:"deals"`
	}
	if err := decode(reply.Data, &out); err != nil {
		return nil, err
	}
	return out.Deals, nil
}

// Heartbeat confirms the adapter is alive.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.call(ctx, ActionHeartbeat, nil)
	return err
}

// ServiceVersion returns the broker adapter's reported protocol version, a
// HEARTBEAT reply field the Launcher (C15) checks against a minimum
// supported version before trading (spec §6 "protocol v1").
func (c *Client) ServiceVersion(ctx context.Context) (string, error) {
	reply, err := c.call(ctx, ActionHeartbeat, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		ServiceVersion string `json:"service_version"`
	}
	if err := decode(reply.Data, &out); err != nil {
		return "", err
	}
	return out.ServiceVersion, nil
}
