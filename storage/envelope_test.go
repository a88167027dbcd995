package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/ruteri/tiered-storage/codec"
	"github.com/ruteri/tiered-storage/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBigCache(t *testing.T, c codec.Codec) *BigCacheProvider {
	t.Helper()
	p, err := NewBigCacheProvider(context.Background(), BigCacheConfig{
		MaxEntriesInWindow: 1024,
		MaxEntrySize:       256,
		Codec:              c,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func newTestRedis(t *testing.T) (*RedisProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	p, err := NewRedisProvider(RedisConfig{
		Client:      goredis.NewClient(&goredis.Options{Addr: mr.Addr()}),
		CloseClient: true,
		KeyPrefix:   "test:",
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, mr
}

func TestBigCacheProvider_Contract(t *testing.T) {
	testProviderContract(t, newTestBigCache(t, nil))
}

func TestBigCacheProvider_CBORContract(t *testing.T) {
	c, err := codec.NewCBOR(true)
	require.NoError(t, err)
	testProviderContract(t, newTestBigCache(t, c))
}

func TestRistrettoProvider_Contract(t *testing.T) {
	p, err := NewRistrettoProvider(RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	testProviderContract(t, p)
}

func TestRistrettoProvider_InvalidConfig(t *testing.T) {
	_, err := NewRistrettoProvider(RistrettoConfig{}, testLogger())
	assert.Error(t, err)
}

func TestBoltProvider_Contract(t *testing.T) {
	p, err := NewBoltProvider(filepath.Join(t.TempDir(), "data.db"), "", nil, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	testProviderContract(t, p)
}

func TestBoltProvider_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.db")

	p, err := NewBoltProvider(path, "objects", nil, testLogger())
	require.NoError(t, err)
	_, err = p.Set(ctx, "k", []byte("durable"), 0)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	p, err = NewBoltProvider(path, "objects", nil, testLogger())
	require.NoError(t, err)
	defer p.Close()

	got, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)
	assert.Equal(t, "bolt-data.db", p.Name())
}

func TestRedisProvider_Contract(t *testing.T) {
	p, _ := newTestRedis(t)
	testProviderContract(t, p)
}

func TestRedisProvider_TTLAndPrefix(t *testing.T) {
	ctx := context.Background()
	p, mr := newTestRedis(t)

	ok, err := p.Set(ctx, "k", []byte("v"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, mr.Exists("test:k"))
	assert.Equal(t, time.Minute, mr.TTL("test:k"))

	mr.FastForward(2 * time.Minute)
	_, err = p.Get(ctx, "k")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRedisProvider_BackendFault(t *testing.T) {
	p, mr := newTestRedis(t)
	mr.Close()

	_, err := p.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrNotFound)
}

func TestNewRedisProvider_NilClient(t *testing.T) {
	_, err := NewRedisProvider(RedisConfig{}, testLogger())
	assert.ErrorIs(t, err, ErrNilRedisClient)
}

func TestEnvelopeProvider_CorruptValue(t *testing.T) {
	ctx := context.Background()
	p, mr := newTestRedis(t)

	require.NoError(t, mr.Set("test:k", "\xc1not an envelope"))

	exists, err := p.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = p.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrNotFound)
}

func TestEnvelopeProvider_StorageTiers(t *testing.T) {
	ctx := context.Background()

	hot := newTestBigCache(t, nil)
	warm, _ := newTestRedis(t)
	cold := newFileTier(t)

	s := New(testLogger())
	defer s.Close()
	s.AddProvider(hot)
	s.AddProvider(warm)
	s.AddProvider(cold)

	_, err := cold.Set(ctx, "tiered", []byte("from disk"), 0)
	require.NoError(t, err)

	got, err := s.Get(ctx, "tiered")
	require.NoError(t, err)
	assert.Equal(t, []byte("from disk"), got)

	requireHas(t, hot, "tiered", []byte("from disk"))
	requireHas(t, warm, "tiered", []byte("from disk"))
}
