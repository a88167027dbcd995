package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/vault/api"
	"github.com/ruteri/tiered-storage/interfaces"
)

// VaultConfig configures a VaultProvider.
type VaultConfig struct {
	Address   string // e.g. https://vault.example.com:8200
	Token     string // falls back to VAULT_TOKEN when empty
	MountPath string // KV v2 mount, e.g. "secret"
	DataPath  string // path within the mount
	Timeout   time.Duration
}

// VaultProvider implements a storage provider on a HashiCorp Vault KV v2
// engine. Values are stored base64-encoded under the "content" field so
// arbitrary bytes survive the JSON API.
type VaultProvider struct {
	AccessPolicy

	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultProvider creates a new Vault storage provider.
func NewVaultProvider(cfg VaultConfig, log *slog.Logger) (*VaultProvider, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	config := api.DefaultConfig()
	config.Address = cfg.Address
	config.HttpClient = &http.Client{Timeout: cfg.Timeout}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mountPath := strings.Trim(cfg.MountPath, "/")
	if mountPath == "" {
		mountPath = "secret"
	}
	dataPath := strings.Trim(cfg.DataPath, "/")

	return &VaultProvider{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(cfg.Address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

type vaultRecord struct {
	content     []byte
	contentType string
	created     *time.Time
}

func (b *VaultProvider) path(kind, key string) string {
	if b.dataPath == "" {
		return fmt.Sprintf("%s/%s/%s", b.mountPath, kind, key)
	}
	return fmt.Sprintf("%s/%s/%s/%s", b.mountPath, kind, b.dataPath, key)
}

func (b *VaultProvider) read(ctx context.Context, key string) (*vaultRecord, error) {
	path := b.path("data", key)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrNotFound
	}

	// KV v2 wraps the stored fields in "data"; a deleted version has none.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		return nil, interfaces.ErrNotFound
	}

	encoded, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data at %s", path)
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid content encoding in Vault data at %s: %w", path, err)
	}

	rec := &vaultRecord{content: content}
	rec.contentType, _ = data["type"].(string)
	if meta, ok := secret.Data["metadata"].(map[string]interface{}); ok {
		if ts, ok := meta["created_time"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				rec.created = &t
			}
		}
	}
	return rec, nil
}

// Exists reads the latest version of the key's secret.
func (b *VaultProvider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.read(ctx, key)
	if err == interfaces.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// Set writes a new version of the key's secret.
func (b *VaultProvider) Set(ctx context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	start := time.Now()
	path := b.path("data", key)

	_, err := b.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(value),
			"type":    mimetype.Detect(value).String(),
		},
	})
	if err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			"err", err)
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored value in Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))
	return true, nil
}

// SetStream reads the remainder of r and writes it as one secret version.
func (b *VaultProvider) SetStream(ctx context.Context, key string, r io.ReadSeeker, ttl time.Duration) (bool, error) {
	start, _, err := streamExtent(r)
	if err != nil {
		return false, err
	}
	defer r.Seek(start, io.SeekStart)

	value, err := io.ReadAll(r)
	if err != nil {
		return false, fmt.Errorf("failed to read stream: %w", err)
	}
	return b.Set(ctx, key, value, ttl)
}

// SetFile writes the content of the file at path.
func (b *VaultProvider) SetFile(ctx context.Context, key string, path string, ttl time.Duration) (bool, error) {
	value, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read source file: %w", err)
	}
	return b.Set(ctx, key, value, ttl)
}

// Get returns the decoded content of the latest version.
func (b *VaultProvider) Get(ctx context.Context, key string) ([]byte, error) {
	rec, err := b.read(ctx, key)
	if err != nil {
		return nil, err
	}
	return rec.content, nil
}

// GetStream wraps Get; Vault has no streaming read.
func (b *VaultProvider) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	rec, err := b.read(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(rec.content)), nil
}

// GetInfo reports the version's creation time, MD5, stored type and size.
func (b *VaultProvider) GetInfo(ctx context.Context, key string) (*interfaces.Info, error) {
	rec, err := b.read(ctx, key)
	if err != nil {
		return nil, err
	}

	sum := md5.Sum(rec.content)
	size := int64(len(rec.content))
	return &interfaces.Info{
		ModTime: rec.created,
		Hash:    hex.EncodeToString(sum[:]),
		Type:    rec.contentType,
		Size:    &size,
	}, nil
}

// Delete removes every version and the metadata of the key's secret.
func (b *VaultProvider) Delete(ctx context.Context, key string) (bool, error) {
	exists, err := b.Exists(ctx, key)
	if err != nil || !exists {
		return false, err
	}

	path := b.path("metadata", key)
	if _, err := b.client.Logical().DeleteWithContext(ctx, path); err != nil {
		b.log.Error("Failed to delete from Vault",
			slog.String("path", path),
			"err", err)
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return true, nil
}

// Name returns a unique identifier for this storage provider.
func (b *VaultProvider) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this storage provider.
func (b *VaultProvider) LocationURI() string {
	return b.locationURI
}
