package api

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/tiered-storage/interfaces"
)

const (
	ObjectsPath = "/api/objects/"
	InfoPath    = "/api/info/"

	// TTLParam is the PUT query parameter carrying a Go duration, e.g. "90s".
	TTLParam = "ttl"

	// DefaultMaxObjectSize is the PUT body limit when none is configured (64MB).
	DefaultMaxObjectSize = 64 << 20
)

// ObjectProvider is the client side view of the object API.
type ObjectProvider interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
	Set(ctx context.Context, key string, body io.Reader, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Info(ctx context.Context, key string) (*InfoResponse, error)
}

// DeleteResponse is returned by DELETE /api/objects/{key}.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// InfoResponse is returned by GET /api/info/{key}.
type InfoResponse struct {
	Key string `json:"key"`
	*interfaces.Info
}

// ErrorResponse is the JSON body of error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EscapeKey path-escapes every segment of key, keeping '/' separators.
func EscapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
