package config

import (
	"fmt"
	"sync/atomic"
)

// Store holds a hot-reloadable Config behind an atomic pointer. Reload
// rejects any change to connection endpoints (gateway, database, redis,
// vault) to avoid handing a running component a transport it was never
// wired to tear down cleanly (spec §9 design note); everything else
// (thresholds, symbol list, risk limits) may change in place.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore wraps an already-loaded Config.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Get returns the currently active configuration. Safe for concurrent use.
func (s *Store) Get() *Config {
	return s.current.Load()
}

// Reload loads configPath again and swaps it in, provided the endpoint
// fields are unchanged from the active configuration.
func (s *Store) Reload(configPath string) error {
	next, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	cur := s.Get()
	if err := endpointsUnchanged(cur, next); err != nil {
		return fmt.Errorf("reload rejected: %w", err)
	}

	s.current.Store(next)
	return nil
}

func endpointsUnchanged(cur, next *Config) error {
	switch {
	case cur.Gateway.Endpoint != next.Gateway.Endpoint:
		return fmt.Errorf("gateway.endpoint changed from %q to %q, restart required", cur.Gateway.Endpoint, next.Gateway.Endpoint)
	case cur.Database.GetDSN() != next.Database.GetDSN():
		return fmt.Errorf("database connection changed, restart required")
	case cur.Redis.GetRedisAddr() != next.Redis.GetRedisAddr():
		return fmt.Errorf("redis.* changed from %q to %q, restart required", cur.Redis.GetRedisAddr(), next.Redis.GetRedisAddr())
	case cur.Vault.Address != next.Vault.Address:
		return fmt.Errorf("vault.address changed, restart required")
	case cur.MarketData.NATSUrl != next.MarketData.NATSUrl:
		return fmt.Errorf("market_data.nats_url changed, restart required")
	}
	return nil
}
