package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	bc "github.com/allegro/bigcache/v3"
	"github.com/ruteri/tiered-storage/codec"
)

const defaultBigCacheLifeWindow = 10 * time.Minute

// BigCacheProvider implements an in-process storage provider on BigCache.
// BigCache has no per-entry TTL; entries live for the configured LifeWindow.
type BigCacheProvider struct {
	envelopeProvider
	c *bc.BigCache
}

// BigCacheConfig configures a BigCacheProvider.
type BigCacheConfig struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
	Codec              codec.Codec
	Name               string
}

// NewBigCacheProvider creates the cache.
func NewBigCacheProvider(ctx context.Context, cfg BigCacheConfig, log *slog.Logger) (*BigCacheProvider, error) {
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = defaultBigCacheLifeWindow
	}
	conf := bc.DefaultConfig(cfg.LifeWindow)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}

	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = "bigcache"
	}
	return &BigCacheProvider{
		envelopeProvider: newEnvelopeProvider(&bigcacheKV{c: c}, cfg.Codec, name, "bigcache://"+name, log),
		c:                c,
	}, nil
}

// Close stops the cleanup goroutine.
func (p *BigCacheProvider) Close() error {
	return p.c.Close()
}

type bigcacheKV struct {
	c *bc.BigCache
}

func (k *bigcacheKV) get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := k.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (k *bigcacheKV) set(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	if err := k.c.Set(key, value); err != nil {
		// entry bigger than the shard allows
		return false, nil
	}
	return true, nil
}

func (k *bigcacheKV) exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := k.get(ctx, key)
	return ok, err
}

func (k *bigcacheKV) del(_ context.Context, key string) (bool, error) {
	err := k.c.Delete(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
