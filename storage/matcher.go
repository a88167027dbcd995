package storage

import (
	"fmt"
	"regexp"
	"strings"

	glob "github.com/ryanuber/go-glob"
	"github.com/ruteri/tiered-storage/interfaces"
)

// MatcherFunc adapts a plain function to interfaces.Matcher.
type MatcherFunc func(key string) bool

// Matches implements interfaces.Matcher.
func (f MatcherFunc) Matches(key string) bool { return f(key) }

// RegexpMatcher matches keys against a compiled regular expression.
type RegexpMatcher struct {
	re *regexp.Regexp
}

// Regexp compiles pattern into a matcher.
func Regexp(pattern string) (*RegexpMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid blacklist pattern %q: %w", pattern, err)
	}
	return &RegexpMatcher{re: re}, nil
}

// MustRegexp is like Regexp but panics if the pattern does not compile.
func MustRegexp(pattern string) *RegexpMatcher {
	m, err := Regexp(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Matches implements interfaces.Matcher.
func (m *RegexpMatcher) Matches(key string) bool { return m.re.MatchString(key) }

func (m *RegexpMatcher) String() string { return "re:" + m.re.String() }

// GlobMatcher matches keys with '*' wildcards, e.g. "cache/*.tmp".
type GlobMatcher string

// Glob returns a wildcard matcher.
func Glob(pattern string) GlobMatcher { return GlobMatcher(pattern) }

// Matches implements interfaces.Matcher.
func (g GlobMatcher) Matches(key string) bool { return glob.Glob(string(g), key) }

func (g GlobMatcher) String() string { return "glob:" + string(g) }

// PrefixMatcher matches keys starting with a fixed prefix.
type PrefixMatcher string

// Prefix returns a prefix matcher.
func Prefix(prefix string) PrefixMatcher { return PrefixMatcher(prefix) }

// Matches implements interfaces.Matcher.
func (p PrefixMatcher) Matches(key string) bool { return strings.HasPrefix(key, string(p)) }

func (p PrefixMatcher) String() string { return "prefix:" + string(p) }

// ParseMatcher builds a matcher from its textual form:
//
//	re:<regexp>    regular expression
//	glob:<pattern> '*' wildcard pattern
//	prefix:<text>  literal prefix
//	<regexp>       anything else is a regular expression
func ParseMatcher(spec string) (interfaces.Matcher, error) {
	switch {
	case strings.HasPrefix(spec, "glob:"):
		return Glob(strings.TrimPrefix(spec, "glob:")), nil
	case strings.HasPrefix(spec, "prefix:"):
		return Prefix(strings.TrimPrefix(spec, "prefix:")), nil
	case strings.HasPrefix(spec, "re:"):
		return Regexp(strings.TrimPrefix(spec, "re:"))
	default:
		return Regexp(spec)
	}
}

// ParseMatchers parses every spec, failing on the first invalid one.
func ParseMatchers(specs []string) ([]interfaces.Matcher, error) {
	matchers := make([]interfaces.Matcher, 0, len(specs))
	for _, spec := range specs {
		m, err := ParseMatcher(spec)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

func matchesAny(matchers []interfaces.Matcher, key string) bool {
	for _, m := range matchers {
		if m.Matches(key) {
			return true
		}
	}
	return false
}
