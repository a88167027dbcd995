package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/tiered-storage/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProvider_Contract(t *testing.T) {
	testProviderContract(t, newFileTier(t))
}

func TestFileProvider_CreatesBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "base")
	p, err := NewFileProvider(dir, testLogger())
	require.NoError(t, err)

	fi, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	assert.Equal(t, "file://"+dir, p.LocationURI())
	assert.Equal(t, "file-base", p.Name())
}

func TestFileProvider_KeysStayInBaseDir(t *testing.T) {
	ctx := context.Background()
	p := newFileTier(t)

	for _, key := range []string{"../escape", "a/../../escape", ""} {
		_, err := p.KeyPath(key)
		assert.ErrorIs(t, err, interfaces.ErrInvalidKey, key)

		_, err = p.Set(ctx, key, []byte("x"), 0)
		assert.ErrorIs(t, err, interfaces.ErrInvalidKey, key)
	}

	path, err := p.KeyPath("a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "c", filepath.Base(path))
}

func TestFileProvider_DirectoriesAreNotValues(t *testing.T) {
	ctx := context.Background()
	p := newFileTier(t)

	_, err := p.Set(ctx, "dir/child", []byte("v"), 0)
	require.NoError(t, err)

	exists, err := p.Exists(ctx, "dir")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = p.Get(ctx, "dir")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// A path below a file is a miss, not a fault.
	_, err = p.Get(ctx, "dir/child/deeper")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestFileProvider_Delete(t *testing.T) {
	ctx := context.Background()
	p := newFileTier(t)

	_, err := p.Set(ctx, "dir/child", []byte("v"), 0)
	require.NoError(t, err)

	ok, err := p.Delete(ctx, "dir")
	require.NoError(t, err)
	assert.False(t, ok, "non-empty directory must not be deleted")

	ok, err = p.Delete(ctx, "dir/child")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Delete(ctx, "dir")
	require.NoError(t, err)
	assert.True(t, ok, "empty directory is deleted")

	ok, err = p.Delete(ctx, "dir")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileProvider_DeleteSymlinkKeepsTarget(t *testing.T) {
	ctx := context.Background()
	p := newFileTier(t)

	target := filepath.Join(t.TempDir(), "target")
	require.NoError(t, os.WriteFile(target, []byte("keep"), 0o644))

	link, err := p.KeyPath("link")
	require.NoError(t, err)
	require.NoError(t, os.Symlink(target, link))

	got, err := p.Get(ctx, "link")
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), got)

	ok, err := p.Delete(ctx, "link")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), data)
}

func TestFileProvider_OverwriteTruncates(t *testing.T) {
	ctx := context.Background()
	p := newFileTier(t)

	_, err := p.Set(ctx, "k", []byte("a much longer value"), 0)
	require.NoError(t, err)
	_, err = p.SetStream(ctx, "k", bytes.NewReader([]byte("short")), 0)
	require.NoError(t, err)

	got, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), got)
}

func TestFileProvider_SetFileMissingSource(t *testing.T) {
	p := newFileTier(t)

	_, err := p.SetFile(context.Background(), "k", filepath.Join(t.TempDir(), "missing"), 0)
	assert.Error(t, err)
}
