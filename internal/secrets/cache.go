package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// cachedSecret holds a secret with an expiry, so repeated launcher preflight
// checks don't re-read Vault on every call.
type cachedSecret struct {
	data      map[string]interface{}
	expiresAt time.Time
}

// CachingClient wraps Client with a bounded-TTL in-memory cache.
type CachingClient struct {
	*Client
	mu    sync.RWMutex
	cache map[string]*cachedSecret
	ttl   time.Duration
}

// NewCachingClient wraps an already-authenticated Client with a cache.
// ttl <= 0 defaults to 5 minutes.
func NewCachingClient(client *Client, ttl time.Duration) *CachingClient {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachingClient{Client: client, cache: make(map[string]*cachedSecret), ttl: ttl}
}

// Get retrieves path, consulting the cache before Vault.
func (c *CachingClient) Get(ctx context.Context, path string) (map[string]interface{}, error) {
	if cached := c.fromCache(path); cached != nil {
		return cached, nil
	}

	data, err := c.Client.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[path] = &cachedSecret{data: data, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return data, nil
}

func (c *CachingClient) fromCache(path string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[path]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.data
}

// ClearCache discards all cached entries.
func (c *CachingClient) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*cachedSecret)
}

// GatewayCredentials holds the broker account credentials the launcher
// verifies are present before starting (spec §4.15 step 1, --verify-keys).
type GatewayCredentials struct {
	AccountLogin    string
	AccountPassword string
	ServerName      string
}

// GetGatewayCredentials retrieves the broker account credentials.
func (c *CachingClient) GetGatewayCredentials(ctx context.Context) (*GatewayCredentials, error) {
	data, err := c.Get(ctx, "gateway")
	if err != nil {
		return nil, fmt.Errorf("get gateway credentials: %w", err)
	}

	creds := &GatewayCredentials{}
	if v, ok := data["account_login"].(string); ok {
		creds.AccountLogin = v
	}
	if v, ok := data["account_password"].(string); ok {
		creds.AccountPassword = v
	}
	if v, ok := data["server_name"].(string); ok {
		creds.ServerName = v
	}
	return creds, nil
}

// DatabasePassword retrieves the database password.
func (c *CachingClient) DatabasePassword(ctx context.Context) (string, error) {
	return c.GetString(ctx, "database", "password")
}
