package interfaces

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"
)

// AccessType selects which blacklist of a provider applies to a key.
type AccessType int

const (
	// AccessRead guards Exists, Get, GetStream and GetInfo.
	AccessRead AccessType = iota
	// AccessWrite guards Set, SetStream, SetFile and Delete.
	AccessWrite
)

// String returns access name.
func (a AccessType) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Matcher decides whether a normalized key matches a blacklist rule.
type Matcher interface {
	Matches(key string) bool
}

// Info is the metadata record returned by GetInfo. Every field is optional;
// providers fill in what their backend can report.
type Info struct {
	ModTime *time.Time `json:"modified_time,omitempty"`
	Hash    string     `json:"content_hash,omitempty"`
	Type    string     `json:"mime_type,omitempty"`
	Size    *int64     `json:"size_bytes,omitempty"`
}

var (
	// ErrNotFound is returned when a key holds no value in a provider or in
	// the whole storage stack. It is a soft miss, not a backend fault.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidKey is returned when a key cannot be mapped onto a backend,
	// e.g. a filesystem key that would escape the provider's base directory.
	ErrInvalidKey = errors.New("invalid key")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a provider location URI is malformed.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrUnsupportedScheme is returned when no provider handles a URI scheme.
	ErrUnsupportedScheme = errors.New("unsupported provider scheme")
)

// Provider is a single storage backend plus its access policy.
//
// Absence is reported as ErrNotFound from the read methods and as false from
// Exists and Delete. Any other error is a backend fault.
type Provider interface {
	// Exists reports whether the backend holds a value for key.
	Exists(ctx context.Context, key string) (bool, error)

	// Set stores value, overwriting any prior value. It returns false when
	// not every byte could be written; partial artifacts are removed.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// SetStream stores the bytes from r's current position to EOF and
	// restores r's position before returning.
	SetStream(ctx context.Context, key string, r io.ReadSeeker, ttl time.Duration) (bool, error)

	// SetFile stores the content of the file at path.
	SetFile(ctx context.Context, key string, path string, ttl time.Duration) (bool, error)

	// Get returns the stored bytes.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetStream returns a fresh reader positioned at offset 0.
	// The caller must close it.
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)

	// GetInfo returns metadata about the stored value.
	GetInfo(ctx context.Context, key string) (*Info, error)

	// Delete removes the value. Deleting an absent key returns false, nil.
	Delete(ctx context.Context, key string) (bool, error)

	// Allowed evaluates the provider's blacklists for key and access.
	Allowed(key string, access AccessType) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this provider.
	LocationURI() string
}

// ProviderLocation represents URI for a storage provider.
type ProviderLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	User   *url.Userinfo
}

// NewProviderLocation parses a provider URI.
func NewProviderLocation(uri string) (ProviderLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ProviderLocation{}, errors.Join(ErrInvalidLocationURI, err)
	}
	if parsed.Scheme == "" {
		return ProviderLocation{}, ErrInvalidLocationURI
	}

	return ProviderLocation{
		Raw:    uri,
		Scheme: strings.ToLower(parsed.Scheme),
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		User:   parsed.User,
	}, nil
}

// String returns the original URI string.
func (loc ProviderLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc ProviderLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc ProviderLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// ProviderFactory creates providers from location URIs.
type ProviderFactory interface {
	ProviderFor(location ProviderLocation) (Provider, error)
}
