package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/ruteri/tiered-storage/codec"
)

const (
	defaultMemcachePort = "11211"
	maxMemcacheKeyLen   = 250

	// Memcached reads expirations above 30 days as absolute unix times.
	memcacheRelativeTTLLimit = 30 * 24 * time.Hour
)

// MemcacheProvider implements a storage provider on a memcached cluster.
// Values are kept in a codec.Envelope so GetInfo can report metadata.
type MemcacheProvider struct {
	envelopeProvider
	client *memcache.Client
}

// NewMemcacheProvider connects to the given servers. Servers without a port
// use the memcached default 11211.
func NewMemcacheProvider(servers []string, c codec.Codec, log *slog.Logger) (*MemcacheProvider, error) {
	if len(servers) == 0 {
		return nil, errors.New("memcache provider: no servers")
	}

	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, defaultMemcachePort)
		}
		addrs = append(addrs, s)
	}

	client := memcache.New(addrs...)
	kv := &memcacheKV{client: client}
	uri := "memcache://" + strings.Join(addrs, ",")

	return &MemcacheProvider{
		envelopeProvider: newEnvelopeProvider(kv, c, "memcache-"+addrs[0], uri, log),
		client:           client,
	}, nil
}

// Close releases idle connections to the servers.
func (p *MemcacheProvider) Close() error {
	return p.client.Close()
}

type memcacheKV struct {
	client *memcache.Client
}

// memcacheKey maps a storage key onto the memcached key alphabet. Keys that
// are too long or contain spaces or control characters are hashed.
func memcacheKey(key string) string {
	if len(key) <= maxMemcacheKeyLen && !strings.ContainsFunc(key, func(r rune) bool {
		return r <= ' ' || r == 0x7f
	}) {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func memcacheExpiration(ttl time.Duration) int32 {
	switch {
	case ttl <= 0:
		return 0
	case ttl > memcacheRelativeTTLLimit:
		return int32(time.Now().Add(ttl).Unix())
	case ttl < time.Second:
		return 1
	default:
		return int32(ttl / time.Second)
	}
}

func (m *memcacheKV) get(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := m.client.Get(memcacheKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memcache get: %w", err)
	}
	return item.Value, true, nil
}

func (m *memcacheKV) set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	err := m.client.Set(&memcache.Item{
		Key:        memcacheKey(key),
		Value:      value,
		Expiration: memcacheExpiration(ttl),
	})
	if errors.Is(err, memcache.ErrNotStored) || isMemcacheServerError(err) {
		// e.g. value larger than the server's item size limit
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("memcache set: %w", err)
	}
	return true, nil
}

// isMemcacheServerError matches SERVER_ERROR replies, which the client
// reports as unexpected response lines.
func isMemcacheServerError(err error) bool {
	return err != nil && (errors.Is(err, memcache.ErrServerError) || strings.Contains(err.Error(), "SERVER_ERROR"))
}

func (m *memcacheKV) exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.get(ctx, key)
	return ok, err
}

func (m *memcacheKV) del(ctx context.Context, key string) (bool, error) {
	err := m.client.Delete(memcacheKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("memcache delete: %w", err)
	}
	return true, nil
}
