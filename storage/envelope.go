package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ruteri/tiered-storage/codec"
	"github.com/ruteri/tiered-storage/interfaces"
)

// kvStore is the raw byte store beneath an envelope provider.
// get returns (value, true, nil) on hit and (nil, false, nil) on miss.
type kvStore interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	exists(ctx context.Context, key string) (bool, error)
	del(ctx context.Context, key string) (bool, error)
}

// envelopeProvider implements interfaces.Provider on top of a kvStore by
// wrapping every value in a codec.Envelope carrying its modification time
// and MIME type.
type envelopeProvider struct {
	AccessPolicy

	kv          kvStore
	codec       codec.Codec
	name        string
	locationURI string
	log         *slog.Logger
	now         func() time.Time
}

func newEnvelopeProvider(kv kvStore, c codec.Codec, name, uri string, log *slog.Logger) envelopeProvider {
	if c == nil {
		c = codec.Default
	}
	if log == nil {
		log = slog.Default()
	}
	return envelopeProvider{
		kv:          kv,
		codec:       c,
		name:        name,
		locationURI: uri,
		log:         log,
		now:         time.Now,
	}
}

func (p *envelopeProvider) Exists(ctx context.Context, key string) (bool, error) {
	return p.kv.exists(ctx, key)
}

func (p *envelopeProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	b, err := p.codec.Encode(codec.Envelope{
		Data:    value,
		ModTime: p.now().UTC(),
		Type:    mimetype.Detect(value).String(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to encode value: %w", err)
	}

	ok, err := p.kv.set(ctx, key, b, ttl)
	if err != nil {
		return false, err
	}
	p.log.Debug("Stored value",
		slog.String("provider", p.name),
		slog.String("key", key),
		slog.Int("size", len(value)),
		slog.Bool("stored", ok))
	return ok, nil
}

func (p *envelopeProvider) SetStream(ctx context.Context, key string, r io.ReadSeeker, ttl time.Duration) (bool, error) {
	start, _, err := streamExtent(r)
	if err != nil {
		return false, err
	}
	defer r.Seek(start, io.SeekStart)

	value, err := io.ReadAll(r)
	if err != nil {
		return false, fmt.Errorf("failed to read stream: %w", err)
	}
	return p.Set(ctx, key, value, ttl)
}

func (p *envelopeProvider) SetFile(ctx context.Context, key string, path string, ttl time.Duration) (bool, error) {
	value, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read source file: %w", err)
	}
	return p.Set(ctx, key, value, ttl)
}

func (p *envelopeProvider) load(ctx context.Context, key string) (codec.Envelope, error) {
	b, ok, err := p.kv.get(ctx, key)
	if err != nil {
		return codec.Envelope{}, err
	}
	if !ok {
		return codec.Envelope{}, interfaces.ErrNotFound
	}

	e, err := p.codec.Decode(b)
	if err != nil {
		return codec.Envelope{}, fmt.Errorf("failed to decode stored value: %w", err)
	}
	if e.Data == nil {
		e.Data = []byte{}
	}
	return e, nil
}

func (p *envelopeProvider) Get(ctx context.Context, key string) ([]byte, error) {
	e, err := p.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.Data, nil
}

func (p *envelopeProvider) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	e, err := p.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(e.Data)), nil
}

func (p *envelopeProvider) GetInfo(ctx context.Context, key string) (*interfaces.Info, error) {
	e, err := p.load(ctx, key)
	if err != nil {
		return nil, err
	}

	sum := md5.Sum(e.Data)
	size := int64(len(e.Data))
	info := &interfaces.Info{
		Hash: hex.EncodeToString(sum[:]),
		Type: e.Type,
		Size: &size,
	}
	if !e.ModTime.IsZero() {
		modTime := e.ModTime
		info.ModTime = &modTime
	}
	return info, nil
}

func (p *envelopeProvider) Delete(ctx context.Context, key string) (bool, error) {
	return p.kv.del(ctx, key)
}

// Name returns a unique identifier for this storage provider.
func (p *envelopeProvider) Name() string {
	return p.name
}

// LocationURI returns the URI that identifies this storage provider.
func (p *envelopeProvider) LocationURI() string {
	return p.locationURI
}
