// Package secrets fetches broker credentials and database passwords from
// HashiCorp Vault, the way the executor's Launcher does during its
// preflight (spec §4.15 step 1).
package secrets

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// Config holds Vault connection settings.
type Config struct {
	Address    string
	Token      string
	AuthMethod string // "token", "kubernetes", "approle"
	MountPath  string // default "secret"
	SecretPath string // e.g. "mt5crs/production"
	Namespace  string
}

// Client wraps the Vault API client for this executor's secrets.
type Client struct {
	api    *vault.Client
	config Config
}

// NewClient authenticates to Vault using the configured method.
func NewClient(cfg Config) (*Client, error) {
	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	api, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Namespace != "" {
		api.SetNamespace(cfg.Namespace)
	}

	switch cfg.AuthMethod {
	case "token", "":
		token := cfg.Token
		if token == "" {
			token = os.Getenv("VAULT_TOKEN")
		}
		if token == "" {
			return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
		}
		api.SetToken(token)
	case "kubernetes":
		if err := authenticateKubernetes(api, cfg); err != nil {
			return nil, fmt.Errorf("kubernetes authentication: %w", err)
		}
	case "approle":
		if err := authenticateAppRole(api, cfg); err != nil {
			return nil, fmt.Errorf("approle authentication: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported vault auth method: %s", cfg.AuthMethod)
	}

	log.Info().
		Str("address", cfg.Address).
		Str("auth_method", cfg.AuthMethod).
		Str("secret_path", cfg.SecretPath).
		Msg("vault client initialized")

	return &Client{api: api, config: cfg}, nil
}

// Get retrieves a full secret map at path (relative to SecretPath).
func (c *Client) Get(ctx context.Context, path string) (map[string]interface{}, error) {
	mount := c.config.MountPath
	if mount == "" {
		mount = "secret"
	}
	fullPath := fmt.Sprintf("%s/data/%s/%s", mount, c.config.SecretPath, path)

	secret, err := c.api.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("read secret from vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("no secret found at path: %s", fullPath)
	}

	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// Health reports whether the Vault server is reachable and unsealed.
func (c *Client) Health(ctx context.Context) error {
	health, err := c.api.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// GetString retrieves a single string field from a secret.
func (c *Client) GetString(ctx context.Context, path, key string) (string, error) {
	data, err := c.Get(ctx, path)
	if err != nil {
		return "", err
	}
	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("key %q not found or not a string at path %q", key, path)
	}
	return value, nil
}

func authenticateKubernetes(client *vault.Client, cfg Config) error {
	jwt, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/token")
	if err != nil {
		return fmt.Errorf("read service account token: %w", err)
	}

	resp, err := client.Logical().Write("auth/kubernetes/login", map[string]interface{}{
		"jwt":  string(jwt),
		"role": "mt5crs-executor",
	})
	if err != nil {
		return fmt.Errorf("kubernetes login: %w", err)
	}
	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("kubernetes login returned no auth info")
	}
	client.SetToken(resp.Auth.ClientToken)
	return nil
}

func authenticateAppRole(client *vault.Client, cfg Config) error {
	roleID := os.Getenv("VAULT_ROLE_ID")
	secretID := os.Getenv("VAULT_SECRET_ID")
	if roleID == "" || secretID == "" {
		return fmt.Errorf("VAULT_ROLE_ID and VAULT_SECRET_ID must be set for approle authentication")
	}

	resp, err := client.Logical().Write("auth/approle/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return fmt.Errorf("approle login: %w", err)
	}
	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("approle login returned no auth info")
	}
	client.SetToken(resp.Auth.ClientToken)
	return nil
}
