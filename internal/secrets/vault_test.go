package secrets

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeVault(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const gatewaySecretJSON = `{
  "request_id": "r1",
  "lease_id": "",
  "renewable": false,
  "lease_duration": 0,
  "data": {
    "data": {
      "account_login": "1100002",
      "account_password": "s3cr3t",
      "server_name": "Broker-Live-01"
    },
    "metadata": {"version": 1}
  }
}`

func TestClient_GetGatewayCredentials(t *testing.T) {
	srv := fakeVault(t, gatewaySecretJSON)

	c, err := NewClient(Config{Address: srv.URL, Token: "test-token", SecretPath: "mt5crs"})
	require.NoError(t, err)

	cc := NewCachingClient(c, time.Minute)
	creds, err := cc.GetGatewayCredentials(t.Context())
	require.NoError(t, err)

	assert.Equal(t, "1100002", creds.AccountLogin)
	assert.Equal(t, "Broker-Live-01", creds.ServerName)
}

func TestCachingClient_CachesUntilCleared(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(gatewaySecretJSON))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{Address: srv.URL, Token: "test-token", SecretPath: "mt5crs"})
	require.NoError(t, err)
	cc := NewCachingClient(c, time.Minute)

	_, err = cc.Get(t.Context(), "gateway")
	require.NoError(t, err)
	_, err = cc.Get(t.Context(), "gateway")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call should be served from cache")

	cc.ClearCache()
	_, err = cc.Get(t.Context(), "gateway")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(Config{Address: "http://127.0.0.1:8200"})
	require.Error(t, err)
}
