// Command gatewaysim is an in-repo stand-in for the broker adapter: a TCP
// server speaking the same newline-delimited JSON request/reply protocol
// internal/gateway.Client dials (one JSON object per line, no length
// prefix) (spec §4.2, §6), for exercising the executor
// end-to-end without a real MT5 terminal.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luzhengheng/MT5-sub005/internal/gateway"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5555", "listen address")
	tradeMode := flag.String("trade-mode", "REAL", "GET_ACCOUNT trade_mode to report: REAL or DEMO")
	serverName := flag.String("server-name", "GatewaySim-Real-01", "GET_ACCOUNT server_name to report")
	serviceVersion := flag.String("service-version", "1.0.0", "HEARTBEAT service_version to report")
	balance := flag.Float64("balance", 10000, "simulated account balance")
	basePrice := flag.Float64("base-price", 1.1000, "base fill price for OPEN_ORDER replies")
	latency := flag.Duration("latency", 2*time.Millisecond, "simulated round-trip delay added to every reply")
	failRate := flag.Float64("fail-rate", 0, "fraction of requests (0..1) that return a simulated ERROR reply")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	sim := &simulator{
		tradeMode:      gateway.TradeMode(*tradeMode),
		serverName:     *serverName,
		serviceVersion: *serviceVersion,
		balance:        *balance,
		equity:         *balance,
		basePrice:      *basePrice,
		latency:        *latency,
		failRate:       *failRate,
		rng:            rand.New(rand.NewSource(1)),
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("failed to listen")
	}
	log.Info().Str("addr", *addr).Str("trade_mode", *tradeMode).Msg("gateway simulator listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Error().Err(err).Msg("accept failed")
			continue
		}
		go sim.handleConn(conn)
	}
}

// simulator holds the broker-side state one connection's request/reply loop
// reads and mutates: account figures, a monotonic ticket sequence, and the
// deal history GET_HISTORY replays.
type simulator struct {
	mu             sync.Mutex
	tradeMode      gateway.TradeMode
	serverName     string
	serviceVersion string
	balance        float64
	equity         float64
	basePrice      float64
	latency        time.Duration
	failRate       float64
	rng            *rand.Rand

	ticketSeq int64
	deals     []gateway.Deal
}

func (s *simulator) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req gateway.Request
		if err := json.Unmarshal(line, &req); err != nil {
			log.Warn().Err(err).Msg("discarding malformed request")
			continue
		}

		if s.latency > 0 {
			time.Sleep(s.latency)
		}

		reply := s.handle(req)
		data, err := json.Marshal(reply)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal reply")
			return
		}
		if _, err := conn.Write(append(data, '\n')); err != nil {
			return
		}
	}
}

func (s *simulator) handle(req gateway.Request) gateway.Reply {
	base := gateway.Reply{ReqID: req.ReqID, Timestamp: float64(time.Now().UnixNano()) / 1e9}

	if s.shouldSimulateFailure() {
		base.Status = gateway.StatusError
		base.Error = "SIMULATED_FAILURE"
		return base
	}

	switch req.Action {
	case gateway.ActionHeartbeat:
		base.Status = gateway.StatusSuccess
		base.Data = map[string]any{"service_version": s.serviceVersion}
	case gateway.ActionGetAccount:
		base.Status = gateway.StatusSuccess
		base.Data = s.accountPayload()
	case gateway.ActionOpenOrder:
		base.Status, base.Data, base.Error = s.openOrder(req.Payload)
	case gateway.ActionCloseOrder:
		base.Status = gateway.StatusSuccess
		base.Data = s.closeOrder(req.Payload)
	case gateway.ActionGetPositions:
		base.Status = gateway.StatusSuccess
		base.Data = map[string]any{"positions": []gateway.Position{}}
	case gateway.ActionGetHistory:
		base.Status = gateway.StatusSuccess
		base.Data = map[string]any{"deals": s.historySince(req.Payload)}
	default:
		base.Status = gateway.StatusError
		base.Error = "UNKNOWN_ACTION"
	}

	return base
}

func (s *simulator) shouldSimulateFailure() bool {
	if s.failRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.failRate
}

func (s *simulator) accountPayload() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"balance":     s.balance,
		"equity":      s.equity,
		"margin":      0.0,
		"free_margin": s.equity,
		"currency":    "USD",
		"trade_mode":  s.tradeMode,
		"server_name": s.serverName,
	}
}

// openOrder fills every order immediately at basePrice plus a small random
// slippage, matching the Launcher's expectation that OPEN_ORDER only
// returns once the broker has executed the order (spec §4.15 step 7).
func (s *simulator) openOrder(payload map[string]any) (gateway.Status, map[string]any, string) {
	var req gateway.OpenOrderRequest
	if err := decodePayload(payload, &req); err != nil {
		return gateway.StatusError, nil, "INVALID_PAYLOAD"
	}
	if req.Volume <= 0 {
		return gateway.StatusError, nil, "INVALID_VOLUME"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ticket := atomic.AddInt64(&s.ticketSeq, 1)
	slippage := (s.rng.Float64() - 0.5) * 0.0002
	price := s.basePrice + slippage

	s.deals = append(s.deals, gateway.Deal{
		Ticket:        ticket,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Volume:        req.Volume,
		Price:         price,
		OpenTime:      time.Now().UTC(),
		Magic:         req.Magic,
		ClientOrderID: req.ClientOrderID,
	})

	return gateway.StatusSuccess, map[string]any{
		"ticket":     ticket,
		"price":      price,
		"commission": 0.0,
		"swap":       0.0,
	}, ""
}

func (s *simulator) closeOrder(payload map[string]any) map[string]any {
	ticket, _ := payload["ticket"].(float64)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := range s.deals {
		if s.deals[i].Ticket == int64(ticket) {
			s.deals[i].CloseTime = &now
		}
	}

	return map[string]any{"ticket": int64(ticket), "price": s.basePrice, "profit": 0.0}
}

func (s *simulator) historySince(payload map[string]any) []gateway.Deal {
	since := time.Time{}
	if raw, ok := payload["since"].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		if d.OpenTime.After(since) {
			out = append(out, d)
		}
	}
	return out
}

func decodePayload(payload map[string]any, dst any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
