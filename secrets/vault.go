// a Vault/OpenBao KV-v2 backed secret manager
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

type VaultManager struct {
	client    *vault.Client
	mountPath string
	roleID    string
	secretID  string
	stopCh    chan struct{}
	tokenMu   sync.RWMutex
	logger    *slog.Logger
}

type VaultManagerOpt func(*VaultManager)

func WithMountPath(mountPath string) VaultManagerOpt {
	return func(v *VaultManager) {
		v.mountPath = mountPath
	}
}

func NewVaultManager(address, roleID, secretID string, logger *slog.Logger, opts ...VaultManagerOpt) (*VaultManager, error) {
	if address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}
	if roleID == "" {
		return nil, fmt.Errorf("role_id cannot be empty")
	}
	if secretID == "" {
		return nil, fmt.Errorf("secret_id cannot be empty")
	}

	config := vault.DefaultConfig()
	config.Address = address

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if err := authenticateAppRole(client, roleID, secretID); err != nil {
		return nil, fmt.Errorf("failed to authenticate with AppRole: %w", err)
	}

	manager := &VaultManager{
		client:    client,
		mountPath: "loom", // default KV v2 mount path
		roleID:    roleID,
		secretID:  secretID,
		stopCh:    make(chan struct{}),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(manager)
	}

	go manager.tokenRenewalLoop()

	return manager, nil
}

// authenticateAppRole authenticates the client using the AppRole method
func authenticateAppRole(client *vault.Client, roleID, secretID string) error {
	authData := map[string]any{
		"role_id":   roleID,
		"secret_id": secretID,
	}

	resp, err := client.Logical().Write("auth/approle/login", authData)
	if err != nil {
		return fmt.Errorf("failed to login with AppRole: %w", err)
	}

	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("no auth info returned from AppRole login")
	}

	client.SetToken(resp.Auth.ClientToken)
	return nil
}

// Stop stops the token renewal goroutine.
func (v *VaultManager) Stop() {
	close(v.stopCh)
}

func (v *VaultManager) tokenRenewalLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			if err := v.ensureValidToken(); err != nil {
				v.logger.Error("vault token renewal failed", "error", err)
			}
		}
	}
}

// ensureValidToken renews the current token, re-authenticating when
// the renewal fails (expired or revoked token).
func (v *VaultManager) ensureValidToken() error {
	v.tokenMu.Lock()
	defer v.tokenMu.Unlock()

	if _, err := v.client.Auth().Token().RenewSelf(3600); err == nil {
		return nil
	}

	return authenticateAppRole(v.client, v.roleID, v.secretID)
}

// secretPath places each secret at <repo>/<key> under the KV mount.
func secretPath(repo OwnerSlashRepo, key string) string {
	return path.Join(string(repo), key)
}

func (v *VaultManager) AddSecret(ctx context.Context, secret UnlockedSecret) error {
	if err := ValidateKey(secret.Key); err != nil {
		return err
	}

	kv := v.client.KVv2(v.mountPath)

	if _, err := kv.Get(ctx, secretPath(secret.Repo, secret.Key)); err == nil {
		return ErrKeyAlreadyPresent
	}

	_, err := kv.Put(ctx, secretPath(secret.Repo, secret.Key), map[string]any{
		"value":      secret.Value,
		"created_by": secret.CreatedBy,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}

	return nil
}

func (v *VaultManager) RemoveSecret(ctx context.Context, secret Secret[any]) error {
	kv := v.client.KVv2(v.mountPath)

	if _, err := kv.Get(ctx, secretPath(secret.Repo, secret.Key)); err != nil {
		return ErrKeyNotFound
	}

	if err := kv.DeleteMetadata(ctx, secretPath(secret.Repo, secret.Key)); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}

	return nil
}

func (v *VaultManager) GetSecretsLocked(ctx context.Context, repo OwnerSlashRepo) ([]LockedSecret, error) {
	keys, err := v.listKeys(ctx, repo)
	if err != nil {
		return nil, err
	}

	var ls []LockedSecret
	for _, key := range keys {
		s, err := v.readSecret(ctx, repo, key)
		if err != nil {
			return nil, err
		}
		ls = append(ls, LockedSecret{
			Key:       key,
			Repo:      repo,
			CreatedAt: s.CreatedAt,
			CreatedBy: s.CreatedBy,
		})
	}

	return ls, nil
}

func (v *VaultManager) GetSecretsUnlocked(ctx context.Context, repo OwnerSlashRepo) ([]UnlockedSecret, error) {
	keys, err := v.listKeys(ctx, repo)
	if err != nil {
		return nil, err
	}

	var ls []UnlockedSecret
	for _, key := range keys {
		s, err := v.readSecret(ctx, repo, key)
		if err != nil {
			return nil, err
		}
		ls = append(ls, *s)
	}

	return ls, nil
}

func (v *VaultManager) listKeys(ctx context.Context, repo OwnerSlashRepo) ([]string, error) {
	listPath := path.Join(v.mountPath, "metadata", string(repo))
	resp, err := v.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}

	// no secrets under this repo
	if resp == nil || resp.Data == nil {
		return nil, nil
	}

	raw, ok := resp.Data["keys"].([]any)
	if !ok {
		return nil, nil
	}

	var keys []string
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys, nil
}

func (v *VaultManager) readSecret(ctx context.Context, repo OwnerSlashRepo, key string) (*UnlockedSecret, error) {
	kv := v.client.KVv2(v.mountPath)

	s, err := kv.Get(ctx, secretPath(repo, key))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", key, err)
	}

	us := UnlockedSecret{
		Key:  key,
		Repo: repo,
	}
	if val, ok := s.Data["value"].(string); ok {
		us.Value = val
	}
	if by, ok := s.Data["created_by"].(string); ok {
		us.CreatedBy = by
	}
	if at, ok := s.Data["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			us.CreatedAt = t
		}
	}

	return &us, nil
}
