package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luzhengheng/MT5-sub005/internal/alerts"
)

// State is the two-valued state of the durable circuit breaker (spec §3, §4.1).
type State string

const (
	StateSafe    State = "SAFE"
	StateEngaged State = "ENGAGED"
)

// ErrEngaged is returned by callers that need to distinguish "already
// engaged" from other engage failures.
var ErrEngaged = errors.New("circuit breaker already engaged")

// Record is the JSON body persisted in the breaker file.
type Record struct {
	EngagedAt time.Time         `json:"engaged_at"`
	Reason    string            `json:"reason"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Manager is the single source of truth for "is the system allowed to
// trade?" Engagement is durable (a lock file on a host-local path) and
// sticky: once ENGAGED within a process lifetime, Engage calls are
// idempotent no-ops and only an explicit Disengage (with an operator token)
// clears it. If the persistent resource itself is unavailable, the manager
// fails closed — State() reports ENGAGED even though no file exists.
type Manager struct {
	mu       sync.RWMutex
	path     string
	state    State
	record   Record
	fellShut bool // true when persistence is unavailable and we fail closed
	log      zerolog.Logger
}

// NewManager constructs a Manager rooted at path. If a breaker file already
// exists at path (e.g. surviving a crash/restart), the manager starts ENGAGED
// and reloads the persisted reason/metadata, per spec §4.1's durability
// requirement.
func NewManager(path string, log zerolog.Logger) (*Manager, error) {
	m := &Manager{
		path: path,
		log:  log.With().Str("component", "circuit_breaker").Logger(),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var rec Record
		if jsonErr := json.Unmarshal(data, &rec); jsonErr != nil {
			m.log.Error().Err(jsonErr).Msg("breaker file unreadable, failing closed")
			m.state = StateEngaged
			m.fellShut = true
			return m, nil
		}
		m.state = StateEngaged
		m.record = rec
		m.log.Warn().
			Time("engaged_at", rec.EngagedAt).
			Str("reason", rec.Reason).
			Msg("circuit breaker restored ENGAGED from persisted state")
	case os.IsNotExist(err):
		m.state = StateSafe
	default:
		m.log.Error().Err(err).Msg("cannot access breaker file, failing closed")
		m.state = StateEngaged
		m.fellShut = true
	}

	return m, nil
}

// State returns the current state. Non-blocking, safe under high read contention.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ShouldHalt is equivalent to State() == ENGAGED.
func (m *Manager) ShouldHalt() bool {
	return m.State() == StateEngaged
}

// Engage atomically transitions to ENGAGED if not already; idempotent.
// Persists reason/metadata to the breaker file using an exclusive create so
// two concurrent engagers race-lose safely (the loser just observes ENGAGED).
func (m *Manager) Engage(reason string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateEngaged {
		return ErrEngaged
	}

	rec := Record{EngagedAt: time.Now().UTC(), Reason: reason, Metadata: metadata}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal breaker record: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			m.log.Error().Err(mkErr).Msg("cannot create breaker directory, failing closed")
			m.state = StateEngaged
			m.record = rec
			m.fellShut = true
			alerts.CircuitBreakerFallClosed(context.Background(), mkErr)
			return nil
		}
	}

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			// Another process/engager won the race; we are ENGAGED either way.
			m.state = StateEngaged
			return ErrEngaged
		}
		m.log.Error().Err(err).Msg("cannot create breaker file, failing closed")
		m.state = StateEngaged
		m.record = rec
		m.fellShut = true
		alerts.CircuitBreakerFallClosed(context.Background(), err)
		return nil
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		m.log.Error().Err(err).Msg("failed writing breaker file, failing closed anyway")
	}

	m.state = StateEngaged
	m.record = rec
	m.log.Error().Str("reason", reason).Msg("circuit breaker ENGAGED")
	alerts.CircuitBreakerEngaged(context.Background(), reason, metadata)

	return nil
}

// Disengage is an administrative action: it requires a non-empty operator
// token (presented out-of-band; the core only checks its presence) and
// deletes the breaker file. Logs the action either way.
func (m *Manager) Disengage(operatorToken string) error {
	if operatorToken == "" {
		return errors.New("disengage requires a non-empty operator token")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateEngaged {
		return nil
	}

	if !m.fellShut {
		if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove breaker file: %w", err)
		}
	}

	m.state = StateSafe
	m.record = Record{}
	m.fellShut = false
	m.log.Warn().Msg("circuit breaker DISENGAGED by operator action")
	return nil
}

// Reason returns the persisted reason for the current engagement, or "" if SAFE.
func (m *Manager) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record.Reason
}

// EngagedAt returns the persisted engagement timestamp, zero if SAFE.
func (m *Manager) EngagedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record.EngagedAt
}

// FellClosed reports whether the breaker is ENGAGED because its persistent
// resource was unavailable, rather than because of a genuine engage call.
func (m *Manager) FellClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fellShut
}
