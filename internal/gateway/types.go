// Package gateway implements the single request/reply transport from the
// executor core to the broker adapter (spec §4.2, §6). The socket is not
// safe for concurrent use; Client serializes access behind one lock and
// holds it only for a single send/receive pair.
package gateway

import "time"

// Action names the gateway must support (spec §4.2, §6).
type Action string

const (
	ActionHeartbeat    Action = "HEARTBEAT"
	ActionOpenOrder    Action = "OPEN_ORDER"
	ActionCloseOrder   Action = "CLOSE_ORDER"
	ActionGetAccount   Action = "GET_ACCOUNT"
	ActionGetPositions Action = "GET_POSITIONS"
	ActionGetHistory   Action = "GET_HISTORY"
)

// idempotentActions retry automatically; OPEN_ORDER and CLOSE_ORDER never do
// (spec §4.2: "non-idempotent actions do not retry automatically").
var idempotentActions = map[Action]bool{
	ActionHeartbeat:    true,
	ActionGetAccount:   true,
	ActionGetPositions: true,
	ActionGetHistory:   true,
}

// IsIdempotent reports whether action is safe to retry automatically.
func IsIdempotent(action Action) bool { return idempotentActions[action] }

// Status is the reply status enum (spec §6).
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
	StatusPending Status = "PENDING"
)

// Request is protocol v1's request frame (spec §4.2, §6).
type Request struct {
	Action    Action          `json:"action"`
	ReqID     string          `json:"req_id"`
	Timestamp float64         `json:"timestamp"`
	Payload   map[string]any  `json:"payload"`
}

// Reply is protocol v1's reply frame.
type Reply struct {
	ReqID     string         `json:"req_id"`
	Status    Status         `json:"status"`
	Timestamp float64        `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Error     string         `json:"error"`
}

// TradeMode mirrors GET_ACCOUNT's trade_mode field.
type TradeMode string

const (
	TradeModeReal TradeMode = "REAL"
	TradeModeDemo TradeMode = "DEMO"
)

// Account is the decoded GET_ACCOUNT payload.
type Account struct {
	Balance     float64   `json:"balance"`
	Equity      float64   `json:"equity"`
	Margin      float64   `json:"margin"`
	FreeMargin  float64   `json:"free_margin"`
	Currency    string    `json:"currency"`
	TradeMode   TradeMode `json:"trade_mode"`
	ServerName  string    `json:"server_name"`
}

// OpenOrderRequest is the OPEN_ORDER payload (spec §6).
type OpenOrderRequest struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Volume        float64 `json:"volume"`
	StopLoss      float64 `json:"sl,omitempty"`
	TakeProfit    float64 `json:"tp,omitempty"`
	Magic         int64   `json:"magic"`
	ClientOrderID string  `json:"client_order_id"`
	Comment       string  `json:"comment,omitempty"`
}

// OpenOrderResult is OPEN_ORDER's SUCCESS data.
type OpenOrderResult struct {
	Ticket     int64   `json:"ticket"`
	Price      float64 `json:"price"`
	Commission float64 `json:"commission"`
	Swap       float64 `json:"swap"`
}

// CloseOrderResult is CLOSE_ORDER's SUCCESS data.
type CloseOrderResult struct {
	Ticket int64   `json:"ticket"`
	Price  float64 `json:"price"`
	Profit float64 `json:"profit"`
}

// Deal is a single broker-reported deal (spec §3, §6 GET_HISTORY).
type Deal struct {
	Ticket     int64      `json:"ticket"`
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"`
	Volume     float64    `json:"volume"`
	Price      float64    `json:"price"`
	Commission float64    `json:"commission"`
	Swap       float64    `json:"swap"`
	Profit     float64    `json:"profit"`
	OpenTime   time.Time  `json:"open_time"`
	CloseTime  *time.Time `json:"close_time,omitempty"`
	Magic      int64      `json:"magic"`
	// ClientOrderID echoes the client_order_id the OPEN_ORDER request carried,
	// so the reconciliation engine can match without a separate lookup.
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// Position mirrors one entry of GET_POSITIONS' positions array.
type Position struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Volume float64 `json:"volume"`
	Price  float64 `json:"price"`
	Magic  int64   `json:"magic"`
}
