package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
app:
  symbols: ["EURUSD.s"]
gateway:
  endpoint: "127.0.0.1:5555"
database:
  password: "x"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestStore_ReloadAppliesThresholdChanges(t *testing.T) {
	path := writeConfig(t, baseYAML+"risk:\n  max_drawdown: 0.02\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	store := NewStore(cfg)

	require.NoError(t, os.WriteFile(path, []byte(baseYAML+"risk:\n  max_drawdown: 0.03\n"), 0o644))
	require.NoError(t, store.Reload(path))

	assert.Equal(t, 0.03, store.Get().Risk.MaxDrawdown)
}

func TestStore_ReloadRejectsEndpointChange(t *testing.T) {
	path := writeConfig(t, baseYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	store := NewStore(cfg)

	changed := `
app:
  symbols: ["EURUSD.s"]
gateway:
  endpoint: "127.0.0.1:9999"
database:
  password: "x"
`
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o644))

	err = store.Reload(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway.endpoint")
	assert.Equal(t, "127.0.0.1:5555", store.Get().Gateway.Endpoint, "rejected reload must not mutate the active config")
}
