package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ruteri/tiered-storage/codec"
)

var ErrNilRedisClient = errors.New("redis provider: nil client")

// RedisProvider implements a storage provider on Redis. Values are kept in a
// codec.Envelope so GetInfo can report metadata.
type RedisProvider struct {
	envelopeProvider
	rdb         goredis.UniversalClient
	closeClient bool
}

// RedisConfig configures a RedisProvider.
type RedisConfig struct {
	Client      goredis.UniversalClient
	CloseClient bool   // set true only if this provider exclusively owns the client
	KeyPrefix   string // prepended to every key
	Codec       codec.Codec
	Name        string
}

// NewRedisProvider wraps an existing Redis client.
func NewRedisProvider(cfg RedisConfig, log *slog.Logger) (*RedisProvider, error) {
	if cfg.Client == nil {
		return nil, ErrNilRedisClient
	}

	name := cfg.Name
	if name == "" {
		name = "redis"
	}

	kv := &redisKV{rdb: cfg.Client, prefix: cfg.KeyPrefix}
	return &RedisProvider{
		envelopeProvider: newEnvelopeProvider(kv, cfg.Codec, name, "redis://"+name, log),
		rdb:              cfg.Client,
		closeClient:      cfg.CloseClient,
	}, nil
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *RedisProvider) Close() error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

type redisKV struct {
	rdb    goredis.UniversalClient
	prefix string
}

func (r *redisKV) get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return b, true, nil
}

func (r *redisKV) set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0 // no expiry
	}
	if err := r.rdb.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return false, fmt.Errorf("redis set: %w", err)
	}
	return true, nil
}

func (r *redisKV) exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *redisKV) del(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Del(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete: %w", err)
	}
	return n > 0, nil
}
