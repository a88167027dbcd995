package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ruteri/tiered-storage/interfaces"
)

// Storage presents an ordered stack of providers as one key-value store.
//
// Earlier providers are consulted first on reads and are the targets of
// backfill; later providers are the targets of forward-fill. Writes fan out to
// every provider whose policy allows the key and are not atomic across
// providers.
type Storage struct {
	providers       []interfaces.Provider
	fillBlacklist   []interfaces.Matcher
	autoFillBack    bool
	autoFillForward bool
	log             *slog.Logger

	tempMu    sync.Mutex
	tempFiles []string
}

// New creates an empty storage with both fill directions enabled.
func New(logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}

	return &Storage{
		autoFillBack:    true,
		autoFillForward: true,
		log:             logger,
	}
}

// AddProvider appends p to the end of the provider stack.
func (s *Storage) AddProvider(p interfaces.Provider) {
	s.providers = append(s.providers, p)
}

// Providers returns a copy of the provider stack in lookup order.
func (s *Storage) Providers() []interfaces.Provider {
	out := make([]interfaces.Provider, len(s.providers))
	copy(out, s.providers)
	return out
}

// BlacklistFill disables fill propagation for keys matching m.
func (s *Storage) BlacklistFill(m interfaces.Matcher) {
	s.fillBlacklist = append(s.fillBlacklist, m)
}

// AutoFillBack reports whether values found on read are copied to earlier providers.
func (s *Storage) AutoFillBack() bool { return s.autoFillBack }

// SetAutoFillBack toggles backfill.
func (s *Storage) SetAutoFillBack(v bool) { s.autoFillBack = v }

// AutoFillForward reports whether values found on read are copied to later providers.
func (s *Storage) AutoFillForward() bool { return s.autoFillForward }

// SetAutoFillForward toggles forward-fill. Forward-fill checks each later
// readable provider with Exists before writing.
func (s *Storage) SetAutoFillForward(v bool) { s.autoFillForward = v }

// normalize canonicalizes key and rejects keys that are empty once
// separators are trimmed.
func normalize(key string) (string, error) {
	key = NormalizeKey(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty key", interfaces.ErrInvalidKey)
	}
	return key, nil
}

func (s *Storage) fillAllowed(key string) bool {
	return !matchesAny(s.fillBlacklist, key)
}

// Exists reports whether any read-allowed provider holds key.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	key, err := normalize(key)
	if err != nil {
		return false, err
	}

	for _, p := range s.providers {
		if !p.Allowed(key, interfaces.AccessRead) {
			continue
		}

		ok, err := p.Exists(ctx, key)
		if err != nil {
			return false, fmt.Errorf("%s: exists %q: %w", p.Name(), key, err)
		}
		s.log.Debug("Storage exists",
			slog.String("provider", p.Name()),
			slog.String("key", key),
			slog.Bool("result", ok))
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Set stores value in every write-allowed provider. It reports true only if
// at least one provider was eligible and every eligible provider succeeded.
// Providers that succeeded are not rolled back when another one fails.
func (s *Storage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.fanOut(ctx, "set", key, func(p interfaces.Provider, key string) (bool, error) {
		return p.Set(ctx, key, value, ttl)
	})
}

// SetStream stores the remaining bytes of r in every write-allowed provider.
// Accounting is the same as Set.
func (s *Storage) SetStream(ctx context.Context, key string, r io.ReadSeeker, ttl time.Duration) (bool, error) {
	return s.fanOut(ctx, "setStream", key, func(p interfaces.Provider, key string) (bool, error) {
		return p.SetStream(ctx, key, r, ttl)
	})
}

// SetFile stores the content of the file at path in every write-allowed
// provider. Accounting is the same as Set.
func (s *Storage) SetFile(ctx context.Context, key string, path string, ttl time.Duration) (bool, error) {
	return s.fanOut(ctx, "setFile", key, func(p interfaces.Provider, key string) (bool, error) {
		return p.SetFile(ctx, key, path, ttl)
	})
}

// Delete removes key from every write-allowed provider. Accounting is the
// same as Set, so deleting a key that some provider lacks reports false.
func (s *Storage) Delete(ctx context.Context, key string) (bool, error) {
	return s.fanOut(ctx, "delete", key, func(p interfaces.Provider, key string) (bool, error) {
		return p.Delete(ctx, key)
	})
}

func (s *Storage) fanOut(ctx context.Context, op string, key string, call func(interfaces.Provider, string) (bool, error)) (bool, error) {
	key, err := normalize(key)
	if err != nil {
		return false, err
	}

	allowed, succeeded := 0, 0
	for _, p := range s.providers {
		if !p.Allowed(key, interfaces.AccessWrite) {
			continue
		}
		allowed++

		ok, err := call(p, key)
		if err != nil {
			return false, fmt.Errorf("%s: %s %q: %w", p.Name(), op, key, err)
		}
		s.log.Debug("Storage "+op,
			slog.String("provider", p.Name()),
			slog.String("key", key),
			slog.Bool("result", ok))
		if ok {
			succeeded++
		}
	}

	if allowed > 0 && succeeded != allowed {
		s.log.Warn("Partial write across providers",
			slog.String("op", op),
			slog.String("key", key),
			slog.Int("allowed", allowed),
			slog.Int("succeeded", succeeded))
	}

	return allowed > 0 && succeeded == allowed, nil
}

// scan walks read-allowed providers until read reports a hit. It returns the
// index of the hit provider and the providers that missed before it, or
// ErrNotFound when no provider had the key.
func (s *Storage) scan(ctx context.Context, op string, key string, read func(interfaces.Provider) error) (int, []interfaces.Provider, error) {
	if key == "" {
		return -1, nil, fmt.Errorf("%w: empty key", interfaces.ErrInvalidKey)
	}

	var missed []interfaces.Provider

	for i, p := range s.providers {
		if !p.Allowed(key, interfaces.AccessRead) {
			continue
		}

		err := read(p)
		if errors.Is(err, interfaces.ErrNotFound) {
			s.log.Debug("Storage "+op+" miss",
				slog.String("provider", p.Name()),
				slog.String("key", key))
			missed = append(missed, p)
			continue
		}
		if err != nil {
			return -1, nil, fmt.Errorf("%s: %s %q: %w", p.Name(), op, key, err)
		}

		s.log.Debug("Storage "+op+" hit",
			slog.String("provider", p.Name()),
			slog.String("key", key))
		return i, missed, nil
	}

	return -1, nil, interfaces.ErrNotFound
}

// fillTargets returns the backfill and forward-fill candidates for a hit at
// index hit. Both lists contain only providers allowed to write key.
func (s *Storage) fillTargets(key string, hit int, missed []interfaces.Provider) (back, forward []interfaces.Provider) {
	if !s.fillAllowed(key) {
		return nil, nil
	}

	if s.autoFillBack {
		for _, p := range missed {
			if p.Allowed(key, interfaces.AccessWrite) {
				back = append(back, p)
			}
		}
	}

	if s.autoFillForward {
		for _, p := range s.providers[hit+1:] {
			if p.Allowed(key, interfaces.AccessWrite) {
				forward = append(forward, p)
			}
		}
	}

	return back, forward
}

// fill writes value to back unconditionally and to every provider in forward
// that does not already report the key.
func (s *Storage) fill(ctx context.Context, key string, value []byte, back, forward []interfaces.Provider) error {
	if len(back) == 0 && len(forward) == 0 {
		return nil
	}
	s.log.Debug("Storage attempting fill",
		slog.String("key", key),
		slog.Int("back", len(back)),
		slog.Int("forward", len(forward)))

	for _, p := range back {
		if err := s.fillOne(ctx, p, key, value); err != nil {
			return err
		}
	}

	for _, p := range forward {
		// Providers that may not be read for key are written without an Exists check.
		if p.Allowed(key, interfaces.AccessRead) {
			exists, err := p.Exists(ctx, key)
			if err != nil {
				return fmt.Errorf("%s: fill exists %q: %w", p.Name(), key, err)
			}
			if exists {
				continue
			}
		}
		if err := s.fillOne(ctx, p, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) fillOne(ctx context.Context, p interfaces.Provider, key string, value []byte) error {
	ok, err := p.Set(ctx, key, value, 0)
	if err != nil {
		return fmt.Errorf("%s: fill %q: %w", p.Name(), key, err)
	}
	if !ok {
		s.log.Warn("Fill write was not stored",
			slog.String("provider", p.Name()),
			slog.String("key", key))
		return nil
	}
	s.log.Debug("Storage fill",
		slog.String("provider", p.Name()),
		slog.String("key", key))
	return nil
}

// Get returns the value for key from the first read-allowed provider holding
// it, filling the other providers according to the fill settings.
// It returns ErrNotFound when no provider holds the key.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	key = NormalizeKey(key)
	start := time.Now()

	var value []byte
	hit, missed, err := s.scan(ctx, "get", key, func(p interfaces.Provider) error {
		var err error
		value, err = p.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	back, forward := s.fillTargets(key, hit, missed)
	if err := s.fill(ctx, key, value, back, forward); err != nil {
		return nil, err
	}

	s.log.Debug("Fetched value",
		slog.String("provider", s.providers[hit].Name()),
		slog.String("key", key),
		slog.Int("size", len(value)),
		slog.Duration("duration", time.Since(start)))
	return value, nil
}

// GetStream is the streaming form of Get. The returned reader starts at
// offset 0 and must be closed by the caller. When the value has to be
// propagated to other providers it is buffered once and the same bytes are
// used for the fill writes.
func (s *Storage) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	key = NormalizeKey(key)

	var stream io.ReadCloser
	hit, missed, err := s.scan(ctx, "getStream", key, func(p interfaces.Provider) error {
		var err error
		stream, err = p.GetStream(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	back, forward := s.fillTargets(key, hit, missed)
	if len(back) == 0 && len(forward) == 0 {
		return stream, nil
	}

	value, err := io.ReadAll(stream)
	stream.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: read stream %q: %w", s.providers[hit].Name(), key, err)
	}
	if err := s.fill(ctx, key, value, back, forward); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(value)), nil
}

// GetStreamTo copies the value for key into sink and returns the number of
// bytes written. Fill behaves as in GetStream.
func (s *Storage) GetStreamTo(ctx context.Context, key string, sink io.Writer) (int64, error) {
	stream, err := s.GetStream(ctx, key)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	return io.Copy(sink, stream)
}

// GetInfo returns the metadata record of the first read-allowed provider
// holding key. It never fills.
func (s *Storage) GetInfo(ctx context.Context, key string) (*interfaces.Info, error) {
	key = NormalizeKey(key)

	var info *interfaces.Info
	_, _, err := s.scan(ctx, "getInfo", key, func(p interfaces.Provider) error {
		var err error
		info, err = p.GetInfo(ctx, key)
		if err == nil && info == nil {
			return interfaces.ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// GetAsTempFile writes the value for key to path, or to a new temporary file
// when path is empty, and returns the path. Every path handed out is removed
// by Close.
func (s *Storage) GetAsTempFile(ctx context.Context, key string, path string) (string, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}

	if path == "" {
		f, err := os.CreateTemp("", "tiered-storage-")
		if err != nil {
			return "", fmt.Errorf("failed to create temp file: %w", err)
		}
		path = f.Name()
		s.trackTempFile(path)

		_, werr := f.Write(value)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			return "", fmt.Errorf("failed to write temp file: %w", err)
		}
		return path, nil
	}

	s.trackTempFile(path)
	if err := os.WriteFile(path, value, 0o600); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return path, nil
}

func (s *Storage) trackTempFile(path string) {
	s.tempMu.Lock()
	defer s.tempMu.Unlock()
	s.tempFiles = append(s.tempFiles, path)
}

// Close removes every file created by GetAsTempFile. Providers are owned by
// the caller and are not closed. Close may be called more than once.
func (s *Storage) Close() error {
	s.tempMu.Lock()
	files := s.tempFiles
	s.tempFiles = nil
	s.tempMu.Unlock()

	var result *multierror.Error
	for _, path := range files {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
