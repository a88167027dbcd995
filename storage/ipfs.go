package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/tiered-storage/interfaces"
)

// IPFSProvider implements a storage provider on the mutable file system
// (MFS) of an IPFS node. Keys map to paths below a root directory; GetInfo
// reports the node's CID as the content hash.
type IPFSProvider struct {
	AccessPolicy

	shell       *shell.Shell
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSProvider creates a new IPFS storage provider connected to the
// node's API at host:port, storing keys below root (default "/tiered-storage").
func NewIPFSProvider(host, port, root string, timeout time.Duration, log *slog.Logger) (*IPFSProvider, error) {
	if log == nil {
		log = slog.Default()
	}
	if port == "" {
		port = "5001" // Default IPFS API port
	}
	root = "/" + strings.Trim(root, "/")
	if root == "/" {
		root = "/tiered-storage"
	}

	apiURL := fmt.Sprintf("%s:%s", host, port)
	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}

	return &IPFSProvider{
		shell:       sh,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiURL, root),
	}, nil
}

func (b *IPFSProvider) mfsPath(key string) string {
	return path.Join(b.root, key)
}

// isIPFSNotFound matches the node's error for missing MFS paths.
func isIPFSNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "file does not exist")
}

// Exists stats the key's MFS path.
func (b *IPFSProvider) Exists(ctx context.Context, key string) (bool, error) {
	stat, err := b.shell.FilesStat(ctx, b.mfsPath(key))
	if isIPFSNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return stat.Type == "file", nil
}

// Set writes value to the key's MFS path, creating parents.
func (b *IPFSProvider) Set(ctx context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	return b.write(ctx, key, bytes.NewReader(value))
}

// SetStream writes the remainder of r and restores its position.
func (b *IPFSProvider) SetStream(ctx context.Context, key string, r io.ReadSeeker, _ time.Duration) (bool, error) {
	start, _, err := streamExtent(r)
	if err != nil {
		return false, err
	}
	defer r.Seek(start, io.SeekStart)

	return b.write(ctx, key, r)
}

// SetFile writes the file at path.
func (b *IPFSProvider) SetFile(ctx context.Context, key string, path string, _ time.Duration) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	return b.write(ctx, key, f)
}

func (b *IPFSProvider) write(ctx context.Context, key string, r io.Reader) (bool, error) {
	start := time.Now()
	p := b.mfsPath(key)

	err := b.shell.FilesWrite(ctx, p, r,
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		b.log.Error("Failed to write to IPFS",
			slog.String("path", p),
			"err", err)
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored value in IPFS",
		slog.String("path", p),
		slog.Duration("duration", time.Since(start)))
	return true, nil
}

// Get reads the key's MFS file.
func (b *IPFSProvider) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := b.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read from IPFS: %w", err)
	}
	return data, nil
}

// GetStream opens the key's MFS file.
func (b *IPFSProvider) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := b.shell.FilesRead(ctx, b.mfsPath(key))
	if isIPFSNotFound(err) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return rc, nil
}

// GetInfo reports the CID and size; MFS keeps no modification time.
func (b *IPFSProvider) GetInfo(ctx context.Context, key string) (*interfaces.Info, error) {
	stat, err := b.shell.FilesStat(ctx, b.mfsPath(key))
	if isIPFSNotFound(err) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if stat.Type != "file" {
		return nil, interfaces.ErrNotFound
	}

	size := int64(stat.Size)
	return &interfaces.Info{
		Hash: stat.Hash,
		Size: &size,
	}, nil
}

// Delete removes the key's MFS file.
func (b *IPFSProvider) Delete(ctx context.Context, key string) (bool, error) {
	exists, err := b.Exists(ctx, key)
	if err != nil || !exists {
		return false, err
	}
	if err := b.shell.FilesRm(ctx, b.mfsPath(key), true); err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return true, nil
}

// Name returns a unique identifier for this storage provider.
func (b *IPFSProvider) Name() string {
	return fmt.Sprintf("ipfs-%s", strings.Trim(b.root, "/"))
}

// LocationURI returns the URI that identifies this storage provider.
func (b *IPFSProvider) LocationURI() string {
	return b.locationURI
}
