// Package kms resolves the key ring master password from its configured
// source. Direct configuration wins; otherwise the password is fetched from
// HashiCorp Vault at startup.
package kms

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// VaultProvider reads the master password from a Vault KV secret.
type VaultProvider struct {
	client *vault.Client
	path   string
	key    string
	log    logger.Logger
}

// NewVaultProvider connects to Vault using the configured address and token.
func NewVaultProvider(cfg config.VaultConfig, log logger.Logger) (*VaultProvider, error) {
	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "failed to create vault client")
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return &VaultProvider{
		client: client,
		path:   cfg.MasterPasswordPath,
		key:    cfg.MasterPasswordKey,
		log:    log.WithComponent("vault"),
	}, nil
}

// MasterPassword fetches the password from the configured secret path. Both
// KV v1 (flat data) and KV v2 (data nested under "data") layouts are
// accepted.
func (p *VaultProvider) MasterPassword(ctx context.Context) (string, error) {
	secret, err := p.client.Logical().ReadWithContext(ctx, p.path)
	if err != nil {
		return "", errors.ErrStoreUnreachable("vault", err)
	}
	if secret == nil || secret.Data == nil {
		return "", errors.Newf(errors.KindConfiguration, "vault secret %s not found", p.path)
	}

	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	password, ok := data[p.key].(string)
	if !ok || password == "" {
		return "", errors.Newf(errors.KindConfiguration, "vault secret %s missing key %q", p.path, p.key)
	}

	p.log.Info(ctx, "master password loaded from vault", logger.String("path", p.path))
	return password, nil
}

// ResolveMasterPassword returns the master password from direct config or,
// when absent, from Vault. An empty result from both sources is fatal.
func ResolveMasterPassword(ctx context.Context, cfg *config.Config, log logger.Logger) (string, error) {
	if cfg.KeyRing.MasterPassword != "" {
		return cfg.KeyRing.MasterPassword, nil
	}
	if !cfg.Vault.Enabled() {
		return "", errors.ErrMissingMasterPassword()
	}

	provider, err := NewVaultProvider(cfg.Vault, log)
	if err != nil {
		return "", err
	}
	password, err := provider.MasterPassword(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving master password: %w", err)
	}
	return password, nil
}
