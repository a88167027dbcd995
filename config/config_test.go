package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/tiered-storage/interfaces"
	"github.com/ruteri/tiered-storage/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
autoFillBack: false
fillBlacklist:
  - "prefix:tmp/"
providers:
  - uri: "bigcache://hot"
    writeBlacklist: ["glob:*.iso"]
  - uri: "file:///var/lib/tiered"
    readBlacklist: ["re:^private/"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.AutoFillBack)
	assert.False(t, *cfg.AutoFillBack)
	assert.Nil(t, cfg.AutoFillForward)
	assert.Equal(t, []string{"prefix:tmp/"}, cfg.FillBlacklist)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "bigcache://hot", cfg.Providers[0].URI)
	assert.Equal(t, []string{"glob:*.iso"}, cfg.Providers[0].WriteBlacklist)
	assert.Equal(t, []string{"re:^private/"}, cfg.Providers[1].ReadBlacklist)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TIERSTORE_AUTO_FILL_BACK", "true")
	t.Setenv("TIERSTORE_AUTO_FILL_FORWARD", "false")
	t.Setenv("TIERSTORE_FILL_BLACKLIST", "prefix:a/,glob:*.b")

	path := writeConfig(t, `
autoFillBack: false
fillBlacklist: ["prefix:tmp/"]
providers:
  - uri: "bigcache://hot"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, *cfg.AutoFillBack)
	assert.False(t, *cfg.AutoFillForward)
	assert.Equal(t, []string{"prefix:tmp/", "prefix:a/", "glob:*.b"}, cfg.FillBlacklist)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "providers:\n  - url: file:///tmp\n"))
	assert.Error(t, err, "unknown fields are rejected")

	t.Setenv("TIERSTORE_AUTO_FILL_BACK", "maybe")
	_, err = Load("")
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	hotDir, coldDir := t.TempDir(), t.TempDir()

	cfg, err := Parse(strings.NewReader(fmt.Sprintf(`
autoFillForward: false
fillBlacklist: ["prefix:nofill/"]
providers:
  - uri: "file://%s"
    writeBlacklist: ["glob:*.iso"]
  - uri: "file://%s"
`, hotDir, coldDir)))
	require.NoError(t, err)

	factory := storage.NewProviderFactory(testLogger())
	defer factory.Close()

	var wrapped []string
	s, err := Build(cfg, factory, testLogger(), WithProviderWrapper(func(p interfaces.Provider) interfaces.Provider {
		wrapped = append(wrapped, p.Name())
		return p
	}))
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.AutoFillBack())
	assert.False(t, s.AutoFillForward())
	assert.Len(t, wrapped, 2)

	providers := s.Providers()
	require.Len(t, providers, 2)
	assert.False(t, providers[0].Allowed("image.iso", interfaces.AccessWrite))
	assert.True(t, providers[1].Allowed("image.iso", interfaces.AccessWrite))

	ok, err := s.Set(ctx, "image.iso", []byte("disk"), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := providers[0].Exists(ctx, "image.iso")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = providers[1].Set(ctx, "nofill/k", []byte("v"), 0)
	require.NoError(t, err)
	_, err = s.Get(ctx, "nofill/k")
	require.NoError(t, err)
	exists, err = providers[0].Exists(ctx, "nofill/k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBuild_Errors(t *testing.T) {
	factory := storage.NewProviderFactory(testLogger())
	defer factory.Close()

	_, err := Build(&Config{}, factory, testLogger())
	assert.ErrorIs(t, err, ErrNoProviders)

	_, err = Build(&Config{Providers: []ProviderConfig{{URI: "ftp://x"}}}, factory, testLogger())
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedScheme)

	_, err = Build(&Config{
		FillBlacklist: []string{"re:("},
		Providers:     []ProviderConfig{{URI: "bigcache://hot"}},
	}, factory, testLogger())
	assert.Error(t, err)

	_, err = Build(&Config{
		Providers: []ProviderConfig{{URI: "file://" + t.TempDir(), Blacklist: []string{"("}}},
	}, factory, testLogger())
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	back := true
	cfg := &Config{
		AutoFillBack: &back,
		Providers:    []ProviderConfig{{URI: "bigcache://hot", Blacklist: []string{"prefix:x"}}},
	}

	data, err := cfg.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}
