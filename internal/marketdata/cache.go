package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ReplayCache persists the latest tick per symbol in Redis so a freshly
// (re)started symbol loop can seed its view before the next live tick
// arrives, rather than blocking on WAIT_TICK. Best-effort: cache
// unavailability degrades to "no seed", never an error (spec §4.3).
type ReplayCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReplayCache wraps client. A nil client yields a no-op cache.
func NewReplayCache(client *redis.Client, ttl time.Duration) *ReplayCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &ReplayCache{client: client, ttl: ttl}
}

func (c *ReplayCache) key(symbol string) string { return "marketdata:tick:" + symbol }

// Get returns the last cached tick for symbol, or false on miss or error.
func (c *ReplayCache) Get(ctx context.Context, symbol string) (Tick, bool) {
	if c == nil || c.client == nil {
		return Tick{}, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	raw, err := c.client.Get(cacheCtx, c.key(symbol)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("replay cache get error, treating as miss")
		}
		return Tick{}, false
	}

	var t Tick
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("replay cache entry unreadable")
		return Tick{}, false
	}
	return t, true
}

// Set stores the latest tick for symbol.
func (c *ReplayCache) Set(ctx context.Context, t Tick) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(t)
	if err != nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := c.client.Set(cacheCtx, c.key(t.Symbol), data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("symbol", t.Symbol).Msg("replay cache set failed")
	}
}
