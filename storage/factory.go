package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	goredis "github.com/redis/go-redis/v9"
	"github.com/ruteri/tiered-storage/codec"
	"github.com/ruteri/tiered-storage/interfaces"
)

// ProviderFactory creates storage providers from location URIs. Providers
// holding connections or goroutines are tracked and released by Close.
type ProviderFactory struct {
	log *slog.Logger

	mu      sync.Mutex
	closers []io.Closer
}

// NewProviderFactory creates a new factory instance that can create providers.
func NewProviderFactory(logger *slog.Logger) *ProviderFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderFactory{log: logger}
}

var _ interfaces.ProviderFactory = (*ProviderFactory)(nil)

// ProviderFor creates a storage provider from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:///absolute/path or file://./relative/path
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=http://minio:9000&pathStyle=true
//   - memcache://host1:11211,host2?codec=cbor
//   - redis://[user:pass@]host:6379/0?prefix=app:&codec=msgpack (also rediss://)
//   - bigcache://name?lifeWindow=10m&maxEntrySize=1024&hardMaxCacheSizeMB=256
//   - ristretto://name?numCounters=100000&maxCost=67108864&bufferItems=64
//   - bolt:///var/lib/tiered/data.db?bucket=objects
//   - vault://[TOKEN@]vault.example.com:8200/secret/app?insecure=true&timeout=30s
//   - ipfs://host:5001/root?timeout=30s
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *ProviderFactory) ProviderFor(loc interfaces.ProviderLocation) (interfaces.Provider, error) {
	f.log.Debug("Creating provider", slog.String("uri", loc.String()))

	switch loc.Scheme {
	case "file":
		return f.createFileProvider(loc)
	case "s3":
		return f.createS3Provider(loc)
	case "memcache":
		return f.createMemcacheProvider(loc)
	case "redis", "rediss":
		return f.createRedisProvider(loc)
	case "bigcache":
		return f.createBigCacheProvider(loc)
	case "ristretto":
		return f.createRistrettoProvider(loc)
	case "bolt":
		return f.createBoltProvider(loc)
	case "vault":
		return f.createVaultProvider(loc)
	case "ipfs":
		return f.createIPFSProvider(loc)
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnsupportedScheme, loc.Scheme)
	}
}

// ProviderForURI parses uri and calls ProviderFor.
func (f *ProviderFactory) ProviderForURI(uri string) (interfaces.Provider, error) {
	loc, err := interfaces.NewProviderLocation(uri)
	if err != nil {
		return nil, err
	}
	return f.ProviderFor(loc)
}

// Close releases every provider created by the factory that holds resources.
func (f *ProviderFactory) Close() error {
	f.mu.Lock()
	closers := f.closers
	f.closers = nil
	f.mu.Unlock()

	var result *multierror.Error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (f *ProviderFactory) track(c io.Closer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closers = append(f.closers, c)
}

// localPath handles absolute (file:///a/b) and relative (file://./a/b) forms.
func localPath(loc interfaces.ProviderLocation) string {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	return path
}

func (f *ProviderFactory) createFileProvider(loc interfaces.ProviderLocation) (interfaces.Provider, error) {
	path := localPath(loc)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, loc)
	}
	return NewFileProvider(path, f.log)
}

func (f *ProviderFactory) createS3Provider(loc interfaces.ProviderLocation) (interfaces.Provider, error) {
	cfg := S3Config{
		Bucket:    loc.Host,
		Prefix:    strings.TrimPrefix(loc.Path, "/"),
		Region:    loc.GetParam("region"),
		Endpoint:  loc.GetParam("endpoint"),
		PathStyle: loc.GetParamBool("pathStyle"),
	}

	if loc.User != nil {
		// Extract credentials from URI (less secure)
		cfg.AccessKey = loc.User.Username()
		cfg.SecretKey, _ = loc.User.Password()
		f.log.Debug("Using embedded credentials for write access")
	} else {
		f.log.Debug("No credentials in URI, using the default AWS credential chain")
	}

	return NewS3Provider(cfg, f.log)
}

func (f *ProviderFactory) createMemcacheProvider(loc interfaces.ProviderLocation) (interfaces.Provider, error) {
	c, err := codec.ByName(loc.GetParam("codec"))
	if err != nil {
		return nil, err
	}

	var servers []string
	for _, s := range strings.Split(loc.Host, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}

	p, err := NewMemcacheProvider(servers, c, f.log)
	if err != nil {
		return nil, err
	}
	f.track(p)
	return p, nil
}

// redisProviderParams are consumed by the factory and hidden from
// goredis.ParseURL, which rejects unknown options.
var redisProviderParams = []string{"prefix", "codec", "name"}

func (f *ProviderFactory) createRedisProvider(loc interfaces.ProviderLocation) (interfaces.Provider, error) {
	c, err := codec.ByName(loc.GetParam("codec"))
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(loc.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}
	q := u.Query()
	for _, name := range redisProviderParams {
		q.Del(name)
	}
	u.RawQuery = q.Encode()

	opts, err := goredis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	name := loc.GetParam("name")
	if name == "" {
		name = "redis-" + opts.Addr
	}

	p, err := NewRedisProvider(RedisConfig{
		Client:      goredis.NewClient(opts),
		CloseClient: true,
		KeyPrefix:   loc.GetParam("prefix"),
		Codec:       c,
		Name:        name,
	}, f.log)
	if err != nil {
		return nil, err
	}
	f.track(p)
	return p, nil
}

func (f *ProviderFactory) createBigCacheProvider(loc interfaces.ProviderLocation) (interfaces.Provider, error) {
	c, err := codec.ByName(loc.GetParam("codec"))
	if err != nil {
		return nil, err
	}

	cfg := BigCacheConfig{Codec: c, Name: "bigcache-" + loc.Host}
	if cfg.LifeWindow, err = durationParam(loc, "lifeWindow"); err != nil {
		return nil, err
	}
	if cfg.CleanWindow, err = durationParam(loc, "cleanWindow"); err != nil {
		return nil, err
	}
	var n int64
	if n, err = intParam(loc, "maxEntriesInWindow"); err != nil {
		return nil, err
	}
	cfg.MaxEntriesInWindow = int(n)
	if n, err = intParam(loc, "maxEntrySize"); err != nil {
		return nil, err
	}
	cfg.MaxEntrySize = int(n)
	if n, err = intParam(loc, "hardMaxCacheSizeMB"); err != nil {
		return nil, err
	}
	cfg.HardMaxCacheSizeMB = int(n)

	p, err := NewBigCacheProvider(context.Background(), cfg, f.log)
	if err != nil {
		return nil, err
	}
	f.track(p)
	return p, nil
}

func (f *ProviderFactory) createRistrettoProvider(loc interfaces.ProviderLocation) (interfaces.Provider, error) {
	c, err := codec.ByName(loc.GetParam("codec"))
	if err != nil {
		return nil, err
	}

	cfg := RistrettoConfig{
		NumCounters: 100_000,
		MaxCost:     64 << 20,
		BufferItems: 64,
		Metrics:     loc.GetParamBool("metrics"),
		Codec:       c,
		Name:        "ristretto-" + loc.Host,
	}
	for name, dst := range map[string]*int64{
		"numCounters": &cfg.NumCounters,
		"maxCost":     &cfg.MaxCost,
		"bufferItems": &cfg.BufferItems,
	} {
		n, err := intParam(loc, name)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			*dst = n
		}
	}

	p, err := NewRistrettoProvider(cfg, f.log)
	if err != nil {
		return nil, err
	}
	f.track(p)
	return p, nil
}

func (f *ProviderFactory) createBoltProvider(loc interfaces.ProviderLocation) (interfaces.Provider, error) {
	c, err := codec.ByName(loc.GetParam("codec"))
	if err != nil {
		return nil, err
	}

	path := localPath(loc)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in bolt URI: %s", interfaces.ErrInvalidLocationURI, loc)
	}

	p, err := NewBoltProvider(filepath.Clean(path), loc.GetParam("bucket"), c, f.log)
	if err != nil {
		return nil, err
	}
	f.track(p)
	return p, nil
}

func (f *ProviderFactory) createVaultProvider(loc interfaces.ProviderLocation) (interfaces.Provider, error) {
	scheme := "https"
	if loc.GetParamBool("insecure") {
		scheme = "http"
	}

	// Path: first segment is the KV v2 mount, the rest is the data path.
	mount, dataPath, _ := strings.Cut(strings.Trim(loc.Path, "/"), "/")

	timeout, err := durationParam(loc, "timeout")
	if err != nil {
		return nil, err
	}

	token := os.Getenv("VAULT_TOKEN")
	if loc.User != nil {
		token = loc.User.Username()
	}

	return NewVaultProvider(VaultConfig{
		Address:   fmt.Sprintf("%s://%s", scheme, loc.Host),
		Token:     token,
		MountPath: mount,
		DataPath:  dataPath,
		Timeout:   timeout,
	}, f.log)
}

func (f *ProviderFactory) createIPFSProvider(loc interfaces.ProviderLocation) (interfaces.Provider, error) {
	host, port, found := strings.Cut(loc.Host, ":")
	if !found {
		port = ""
	}

	timeout, err := durationParam(loc, "timeout")
	if err != nil {
		return nil, err
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return NewIPFSProvider(host, port, loc.Path, timeout, f.log)
}

func durationParam(loc interfaces.ProviderLocation, name string) (time.Duration, error) {
	v := loc.GetParam(name)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", interfaces.ErrInvalidLocationURI, name, v, err)
	}
	return d, nil
}

func intParam(loc interfaces.ProviderLocation, name string) (int64, error) {
	v := loc.GetParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", interfaces.ErrInvalidLocationURI, name, v, err)
	}
	return n, nil
}
