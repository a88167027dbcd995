package storage

import (
	"testing"

	"github.com/ruteri/tiered-storage/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"a/b", "a/b"},
		{"/a/b/", "a/b"},
		{`\a\b\`, `a\b`},
		{"//a//", "a"},
		{"a:", "a"},
		{"/", ""},
		{"", ""},
	}

	for _, tt := range tests {
		got := NormalizeKey(tt.key)
		assert.Equal(t, tt.want, got, "NormalizeKey(%q)", tt.key)
		assert.Equal(t, got, NormalizeKey(got), "not idempotent for %q", tt.key)
	}
}

func TestParseMatcher(t *testing.T) {
	tests := []struct {
		spec    string
		matches []string
		misses  []string
	}{
		{"glob:cache/*.tmp", []string{"cache/a.tmp", "cache/x/y.tmp"}, []string{"cache/a.txt", "other/a.tmp"}},
		{"prefix:secret/", []string{"secret/", "secret/a"}, []string{"secrets", "a/secret/"}},
		{"re:^logs/[0-9]+$", []string{"logs/1", "logs/42"}, []string{"logs/a", "xlogs/1"}},
		{`\.bak$`, []string{"a.bak", "x/y.bak"}, []string{"a.bakx"}},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			m, err := ParseMatcher(tt.spec)
			require.NoError(t, err)
			for _, key := range tt.matches {
				assert.True(t, m.Matches(key), key)
			}
			for _, key := range tt.misses {
				assert.False(t, m.Matches(key), key)
			}
		})
	}

	_, err := ParseMatcher("re:(")
	assert.Error(t, err)

	_, err = ParseMatchers([]string{"prefix:a", "("})
	assert.Error(t, err)

	ms, err := ParseMatchers([]string{"prefix:a", "glob:*b"})
	require.NoError(t, err)
	assert.Len(t, ms, 2)
}

func TestMatcherStrings(t *testing.T) {
	assert.Equal(t, "re:^a", MustRegexp("^a").String())
	assert.Equal(t, "glob:*.tmp", Glob("*.tmp").String())
	assert.Equal(t, "prefix:p/", Prefix("p/").String())
	assert.Panics(t, func() { MustRegexp("(") })
}

func TestAccessPolicy(t *testing.T) {
	var p AccessPolicy
	p.Blacklist(Prefix("all/"))
	p.ReadBlacklist(Prefix("wo/"))
	p.WriteBlacklist(MatcherFunc(func(key string) bool { return key == "ro" }))

	tests := []struct {
		key   string
		read  bool
		write bool
	}{
		{"plain", true, true},
		{"all/x", false, false},
		{"wo/x", false, true},
		{"ro", true, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.read, p.Allowed(tt.key, interfaces.AccessRead), "read %q", tt.key)
		assert.Equal(t, tt.write, p.Allowed(tt.key, interfaces.AccessWrite), "write %q", tt.key)
	}
}
