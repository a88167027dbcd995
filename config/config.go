// Package config describes a provider stack in YAML and assembles a
// storage.Storage from it.
//
//	autoFillBack: true
//	autoFillForward: false
//	fillBlacklist:
//	  - "prefix:tmp/"
//	providers:
//	  - uri: "bigcache://hot?lifeWindow=5m"
//	    writeBlacklist: ["glob:*.iso"]
//	  - uri: "file:///var/lib/tiered"
//
// Blacklist entries use the storage.ParseMatcher syntax. Environment
// variables prefixed with TIERSTORE_ override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/ruteri/tiered-storage/interfaces"
	"github.com/ruteri/tiered-storage/storage"
	"gopkg.in/yaml.v3"
)

const envNamespace = "TIERSTORE"

var ErrNoProviders = errors.New("config: no providers configured")

// Config is the YAML description of a storage stack.
type Config struct {
	AutoFillBack    *bool            `yaml:"autoFillBack,omitempty"`
	AutoFillForward *bool            `yaml:"autoFillForward,omitempty"`
	FillBlacklist   []string         `yaml:"fillBlacklist,omitempty"`
	Providers       []ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes one provider in lookup order.
type ProviderConfig struct {
	URI            string   `yaml:"uri"`
	Blacklist      []string `yaml:"blacklist,omitempty"`
	ReadBlacklist  []string `yaml:"readBlacklist,omitempty"`
	WriteBlacklist []string `yaml:"writeBlacklist,omitempty"`
}

// Env holds the environment overrides.
type Env struct {
	AutoFillBack    *bool    `envconfig:"AUTO_FILL_BACK"`
	AutoFillForward *bool    `envconfig:"AUTO_FILL_FORWARD"`
	FillBlacklist   []string `envconfig:"FILL_BLACKLIST"`
}

// Load reads the YAML file at path and applies environment overrides. An
// empty path yields a configuration built from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if cfg, err = Parse(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML configuration, rejecting unknown fields.
func Parse(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides the fill settings from TIERSTORE_* variables. The fill
// blacklist from the environment is appended to the configured one.
func (c *Config) ApplyEnv() error {
	var env Env
	if err := envconfig.Process(envNamespace, &env); err != nil {
		return fmt.Errorf("failed to load env: %w", err)
	}

	if env.AutoFillBack != nil {
		c.AutoFillBack = env.AutoFillBack
	}
	if env.AutoFillForward != nil {
		c.AutoFillForward = env.AutoFillForward
	}
	c.FillBlacklist = append(c.FillBlacklist, env.FillBlacklist...)
	return nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	wrap func(interfaces.Provider) interfaces.Provider
}

// WithProviderWrapper wraps every provider after its policy is configured,
// e.g. with metrics.InstrumentProvider.
func WithProviderWrapper(wrap func(interfaces.Provider) interfaces.Provider) Option {
	return func(o *buildOptions) { o.wrap = wrap }
}

// Build creates the providers through factory, applies their blacklists and
// returns the assembled storage.
func Build(cfg *Config, factory interfaces.ProviderFactory, log *slog.Logger, opts ...Option) (*storage.Storage, error) {
	if len(cfg.Providers) == 0 {
		return nil, ErrNoProviders
	}

	if log == nil {
		log = slog.Default()
	}

	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := storage.New(log)
	if cfg.AutoFillBack != nil {
		s.SetAutoFillBack(*cfg.AutoFillBack)
	}
	if cfg.AutoFillForward != nil {
		s.SetAutoFillForward(*cfg.AutoFillForward)
	}

	fill, err := storage.ParseMatchers(cfg.FillBlacklist)
	if err != nil {
		return nil, fmt.Errorf("fillBlacklist: %w", err)
	}
	for _, m := range fill {
		s.BlacklistFill(m)
	}

	for i, pc := range cfg.Providers {
		p, err := buildProvider(pc, factory)
		if err != nil {
			return nil, fmt.Errorf("providers[%d]: %w", i, err)
		}
		if o.wrap != nil {
			p = o.wrap(p)
		}
		s.AddProvider(p)

		log.Info("Added storage provider",
			slog.Int("index", i),
			slog.String("provider", p.Name()),
			slog.String("uri", p.LocationURI()))
	}
	return s, nil
}

func buildProvider(pc ProviderConfig, factory interfaces.ProviderFactory) (interfaces.Provider, error) {
	loc, err := interfaces.NewProviderLocation(pc.URI)
	if err != nil {
		return nil, err
	}
	p, err := factory.ProviderFor(loc)
	if err != nil {
		return nil, err
	}

	if len(pc.Blacklist)+len(pc.ReadBlacklist)+len(pc.WriteBlacklist) == 0 {
		return p, nil
	}

	pol, ok := p.(storage.PolicyConfigurer)
	if !ok {
		return nil, fmt.Errorf("provider %s does not accept blacklists", p.Name())
	}

	for _, rule := range []struct {
		specs []string
		add   func(interfaces.Matcher)
	}{
		{pc.Blacklist, pol.Blacklist},
		{pc.ReadBlacklist, pol.ReadBlacklist},
		{pc.WriteBlacklist, pol.WriteBlacklist},
	} {
		matchers, err := storage.ParseMatchers(rule.specs)
		if err != nil {
			return nil, err
		}
		for _, m := range matchers {
			rule.add(m)
		}
	}
	return p, nil
}
