package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ruteri/tiered-storage/interfaces"
)

// FileProvider implements a storage provider using the local file system.
// Each key maps to a file below the base directory; '/' in keys creates
// subdirectories.
type FileProvider struct {
	AccessPolicy

	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileProvider creates a new file storage provider rooted at baseDir,
// creating the directory if it doesn't exist.
func NewFileProvider(baseDir string, log *slog.Logger) (*FileProvider, error) {
	if log == nil {
		log = slog.Default()
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	// Ensure base directory exists
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileProvider{
		baseDir:     abs,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", abs),
	}, nil
}

// KeyPath returns the file path backing key.
func (b *FileProvider) KeyPath(key string) (string, error) {
	p := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if p == b.baseDir || !strings.HasPrefix(p, b.baseDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q escapes %s", interfaces.ErrInvalidKey, key, b.baseDir)
	}
	return p, nil
}

// Exists reports whether a regular file backs key.
func (b *FileProvider) Exists(ctx context.Context, key string) (bool, error) {
	path, err := b.KeyPath(key)
	if err != nil {
		return false, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return fi.Mode().IsRegular(), nil
}

// Set writes value to the key's file. A short write removes the file and
// reports false.
func (b *FileProvider) Set(ctx context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	f, path, err := b.create(key)
	if err != nil {
		return false, err
	}

	n, werr := f.Write(value)
	cerr := f.Close()
	if werr != nil || cerr != nil || n != len(value) {
		b.log.Warn("Short write to file",
			slog.String("path", path),
			slog.Int("written", n),
			slog.Int("size", len(value)),
			"err", errors.Join(werr, cerr))
		b.rollback(path)
		return false, nil
	}

	b.log.Debug("Stored value in file",
		slog.String("path", path),
		slog.Int("size", len(value)))
	return true, nil
}

// SetStream copies the remainder of r to the key's file and restores r's
// position afterwards.
func (b *FileProvider) SetStream(ctx context.Context, key string, r io.ReadSeeker, _ time.Duration) (bool, error) {
	start, remaining, err := streamExtent(r)
	if err != nil {
		return false, err
	}
	defer r.Seek(start, io.SeekStart)

	f, path, err := b.create(key)
	if err != nil {
		return false, err
	}

	n, werr := io.Copy(f, r)
	cerr := f.Close()
	if werr != nil || cerr != nil || n != remaining {
		b.log.Warn("Short write to file",
			slog.String("path", path),
			slog.Int64("written", n),
			slog.Int64("size", remaining),
			"err", errors.Join(werr, cerr))
		b.rollback(path)
		return false, nil
	}

	b.log.Debug("Stored stream in file",
		slog.String("path", path),
		slog.Int64("size", n))
	return true, nil
}

// SetFile copies the file at src to the key's file.
func (b *FileProvider) SetFile(ctx context.Context, key string, src string, ttl time.Duration) (bool, error) {
	in, err := os.Open(src)
	if err != nil {
		return false, fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	return b.SetStream(ctx, key, in, ttl)
}

// Get reads the key's file. Returns ErrNotFound if the file doesn't exist.
func (b *FileProvider) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := b.regularFile(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched value from file",
		slog.String("path", path),
		slog.Int("size", len(data)))
	return data, nil
}

// GetStream opens the key's file for reading.
func (b *FileProvider) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := b.regularFile(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// GetInfo returns modification time, MD5, detected MIME type and size.
func (b *FileProvider) GetInfo(ctx context.Context, key string) (*interfaces.Info, error) {
	path, err := b.regularFile(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("failed to hash file: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind file: %w", err)
	}
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to detect mime type: %w", err)
	}

	modTime := fi.ModTime()
	size := fi.Size()
	return &interfaces.Info{
		ModTime: &modTime,
		Hash:    hex.EncodeToString(h.Sum(nil)),
		Type:    mtype.String(),
		Size:    &size,
	}, nil
}

// Delete removes the key's file, a symlink in its place, or an empty
// directory. A symlink is unlinked and its target kept. Non-empty
// directories are left alone and reported as false.
func (b *FileProvider) Delete(ctx context.Context, key string) (bool, error) {
	path, err := b.KeyPath(key)
	if err != nil {
		return false, err
	}

	fi, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}

	if fi.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return false, fmt.Errorf("failed to read directory: %w", err)
		}
		if len(entries) > 0 {
			b.log.Error("Unable to delete non-empty directory",
				slog.String("key", key),
				slog.String("path", path))
			return false, nil
		}
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete file: %w", err)
	}
	return true, nil
}

// Name returns a unique identifier for this storage provider.
func (b *FileProvider) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage provider.
func (b *FileProvider) LocationURI() string {
	return b.locationURI
}

func (b *FileProvider) create(key string) (*os.File, string, error) {
	path, err := b.KeyPath(key)
	if err != nil {
		return nil, "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file: %w", err)
	}
	return f, path, nil
}

// regularFile resolves key to a path, reporting ErrNotFound unless a
// regular file is present.
func (b *FileProvider) regularFile(key string) (string, error) {
	path, err := b.KeyPath(key)
	if err != nil {
		return "", err
	}

	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return "", interfaces.ErrNotFound
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return "", interfaces.ErrNotFound
	}
	return path, nil
}

// rollback removes a partially written file. A failed removal is logged and
// not escalated.
func (b *FileProvider) rollback(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		b.log.Error("Failed to write all bytes to disk and subsequent delete was unsuccessful",
			slog.String("path", path),
			"err", err)
	}
}

// streamExtent returns r's current offset and the number of bytes left.
func streamExtent(r io.ReadSeeker) (start, remaining int64, err error) {
	start, err = r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read stream position: %w", err)
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read stream size: %w", err)
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("failed to restore stream position: %w", err)
	}
	return start, end - start, nil
}
