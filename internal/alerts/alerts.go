// Package alerts centralizes fatal-alert emission for the error kinds the
// executor treats as safety-relevant (spec §7): surfacing is always a named
// call site, never an ad hoc log.Error() scattered through component code.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Severity levels for alerts.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents a single alert emission.
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Alerter defines the interface for sending alerts to one channel.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans an alert out to every configured channel.
type Manager struct {
	alerters []Alerter
}

// NewManager creates a new alert manager over the given channels.
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{alerters: alerters}
}

// Send delivers the alert to every configured channel, returning the last error.
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().Err(err).Str("title", alert.Title).Msg("failed to send alert")
			lastErr = err
		}
	}
	return lastErr
}

func (m *Manager) SendCritical(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityCritical, Metadata: metadata})
}

func (m *Manager) SendWarning(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityWarning, Metadata: metadata})
}

func (m *Manager) SendInfo(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityInfo, Metadata: metadata})
}

// LogAlerter logs alerts via zerolog.
type LogAlerter struct{}

func NewLogAlerter() *LogAlerter { return &LogAlerter{} }

func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	event := log.Log()
	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	case SeverityInfo:
		event = log.Info()
	}
	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}
	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(alert.Message)
	return nil
}

var defaultManager *Manager

func init() {
	defaultManager = NewManager(NewLogAlerter())
}

// GetDefaultManager returns the process-wide default alert manager.
func GetDefaultManager() *Manager { return defaultManager }

// SetDefaultManager replaces the process-wide default alert manager.
func SetDefaultManager(manager *Manager) { defaultManager = manager }

// Named alert sites, one per spec §7 error kind that requires a fatal alert.

// CircuitBreakerEngaged alerts that C1 has transitioned SAFE -> ENGAGED.
func CircuitBreakerEngaged(ctx context.Context, reason string, metadata map[string]string) {
	meta := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	defaultManager.SendCritical(ctx, "Circuit Breaker Engaged", reason, meta)
}

// CircuitBreakerFallClosed alerts that the persistent breaker resource was
// unavailable and the breaker fell closed (treated as ENGAGED) per spec §4.1.
func CircuitBreakerFallClosed(ctx context.Context, err error) {
	defaultManager.SendCritical(ctx, "Circuit Breaker Resource Unavailable", fmt.Sprintf(
		"persistent breaker file unreachable, falling closed: %v", err,
	), map[string]interface{}{"error": err.Error()})
}

// GatewayBlocked alerts a BLOCKED reply from the gateway (wrong trade mode).
func GatewayBlocked(ctx context.Context, action, reason string) {
	defaultManager.SendCritical(ctx, "Gateway Blocked", fmt.Sprintf(
		"action %s blocked: %s", action, reason,
	), map[string]interface{}{"action": action, "reason": reason})
}

// RiskBreach alerts a drawdown or leverage hard-limit breach.
func RiskBreach(ctx context.Context, sensor string, value, limit float64) {
	defaultManager.SendCritical(ctx, "Risk Limit Breached", fmt.Sprintf(
		"%s %.4f exceeded %.4f", sensor, value, limit,
	), map[string]interface{}{"sensor": sensor, "value": value, "limit": limit})
}

// RiskWarning alerts a drawdown or leverage approaching its hard limit,
// below the threshold that engages the breaker.
func RiskWarning(ctx context.Context, sensor string, value, warning float64) {
	defaultManager.SendWarning(ctx, "Risk Limit Warning", fmt.Sprintf(
		"%s %.4f crossed warning threshold %.4f", sensor, value, warning,
	), map[string]interface{}{"sensor": sensor, "value": value, "warning": warning})
}

// ReconciliationMismatch alerts a field mismatch between local and broker records.
func ReconciliationMismatch(ctx context.Context, ticket int64, field string, local, remote float64) {
	defaultManager.SendCritical(ctx, "Reconciliation Mismatch", fmt.Sprintf(
		"ticket %d field %s local=%.4f broker=%.4f", ticket, field, local, remote,
	), map[string]interface{}{"ticket": ticket, "field": field, "local": local, "broker": remote})
}

// LoopInstability alerts repeated in-loop failures for a symbol.
func LoopInstability(ctx context.Context, symbol string, failures int) {
	defaultManager.SendCritical(ctx, "Symbol Loop Instability", fmt.Sprintf(
		"%s failed %d times within the instability window", symbol, failures,
	), map[string]interface{}{"symbol": symbol, "failures": failures})
}

// CanaryFailed alerts that the Launcher's canary order did not fill.
func CanaryFailed(ctx context.Context, reason string) {
	defaultManager.SendCritical(ctx, "Canary Order Failed", reason, nil)
}
