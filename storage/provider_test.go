package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/tiered-storage/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// infoCheck asserts the metadata a provider reports for the value "hello".
type infoCheck func(t *testing.T, info *interfaces.Info)

// checkFullInfo expects an md5 hash, size, modification time and content type.
func checkFullInfo(t *testing.T, info *interfaces.Info) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", info.Hash)
	require.NotNil(t, info.Size)
	assert.Equal(t, int64(5), *info.Size)
	assert.NotNil(t, info.ModTime)
	assert.Contains(t, info.Type, "text/plain")
}

// testProviderContract exercises the behaviour every provider shares.
// Metadata is verified with checkFullInfo unless checks are given.
func testProviderContract(t *testing.T, p interfaces.Provider, checks ...infoCheck) {
	t.Helper()
	ctx := context.Background()
	if len(checks) == 0 {
		checks = []infoCheck{checkFullInfo}
	}
	const key = "contract/k"

	t.Run("miss", func(t *testing.T) {
		exists, err := p.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = p.Get(ctx, key)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		_, err = p.GetStream(ctx, key)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		_, err = p.GetInfo(ctx, key)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		deleted, err := p.Delete(ctx, key)
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("set and read back", func(t *testing.T) {
		ok, err := p.Set(ctx, key, []byte("hello"), 0)
		require.NoError(t, err)
		require.True(t, ok)

		exists, err := p.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)

		got, err := p.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), got)

		rc, err := p.GetStream(ctx, key)
		require.NoError(t, err)
		streamed, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, []byte("hello"), streamed)

		info, err := p.GetInfo(ctx, key)
		require.NoError(t, err)
		for _, check := range checks {
			check(t, info)
		}
	})

	t.Run("empty value", func(t *testing.T) {
		ok, err := p.Set(ctx, "contract/empty", []byte{}, 0)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := p.Get(ctx, "contract/empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("stream from offset", func(t *testing.T) {
		r := bytes.NewReader([]byte("xxworld"))
		_, err := r.Seek(2, io.SeekStart)
		require.NoError(t, err)

		ok, err := p.SetStream(ctx, "contract/stream", r, 0)
		require.NoError(t, err)
		require.True(t, ok)

		pos, err := r.Seek(0, io.SeekCurrent)
		require.NoError(t, err)
		assert.Equal(t, int64(2), pos)

		got, err := p.Get(ctx, "contract/stream")
		require.NoError(t, err)
		assert.Equal(t, []byte("world"), got)
	})

	t.Run("file", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "src")
		require.NoError(t, os.WriteFile(src, []byte("from file"), 0o644))

		ok, err := p.SetFile(ctx, "contract/file", src, 0)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := p.Get(ctx, "contract/file")
		require.NoError(t, err)
		assert.Equal(t, []byte("from file"), got)
	})

	t.Run("delete", func(t *testing.T) {
		deleted, err := p.Delete(ctx, key)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = p.Delete(ctx, key)
		require.NoError(t, err)
		assert.False(t, deleted)

		exists, err := p.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
