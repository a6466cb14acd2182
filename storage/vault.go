package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/token-registry-sync/interfaces"
)

// VaultBackend archives artifacts in a HashiCorp Vault KV v2 mount.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend authenticates with token against the Vault at address.
// mountPath is the KV v2 mount (e.g. "secret") and dataPath the prefix inside it.
func NewVaultBackend(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

func (b *VaultBackend) Fetch(ctx context.Context, id interfaces.ContentID, kind interfaces.ArtifactKind) ([]byte, error) {
	secretPath := b.secretPath(id, kind)

	secret, err := b.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("path", secretPath), "err", err)
		return nil, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrContentNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response at %s", secretPath)
	}
	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data at %s", secretPath)
	}

	return []byte(content), nil
}

func (b *VaultBackend) Store(ctx context.Context, data []byte, kind interfaces.ArtifactKind) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	secretPath := b.secretPath(id, kind)

	_, err := b.client.Logical().WriteWithContext(ctx, secretPath, map[string]interface{}{
		"data": map[string]interface{}{
			"content": string(data),
		},
	})
	if err != nil {
		b.log.Error("Failed to write to Vault", slog.String("path", secretPath), "err", err)
		return id, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored artifact in Vault", slog.String("contentID", id.String()), slog.String("kind", kind.String()))
	return id, nil
}

// Available reports whether Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath(id interfaces.ContentID, kind interfaces.ArtifactKind) string {
	if b.dataPath == "" {
		return fmt.Sprintf("%s/data/%s/%s", b.mountPath, kind, id)
	}
	return fmt.Sprintf("%s/data/%s/%s/%s", b.mountPath, b.dataPath, kind, id)
}
