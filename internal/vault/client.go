// Package vault reads the 3Commas API credentials from HashiCorp
// Vault when configured; config and environment remain the fallback
// sources.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"threecommas-tsl-bot/config"
)

// Credentials holds the 3Commas API key pair stored in Vault.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	config config.VaultConfig
}

// NewClient creates a Vault client. With Vault disabled the returned
// client is inert and GetCredentials reports not found.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Addr

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// GetCredentials reads the API key pair from the configured KV v2
// secret path.
func (c *Client) GetCredentials(ctx context.Context) (*Credentials, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.config.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no credentials at %s", c.config.SecretPath)
	}

	// KV v2 nests the payload under "data".
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	creds := &Credentials{}
	if v, ok := data["api_key"].(string); ok {
		creds.APIKey = v
	}
	if v, ok := data["api_secret"].(string); ok {
		creds.APISecret = v
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("credentials at %s are incomplete", c.config.SecretPath)
	}
	return creds, nil
}
