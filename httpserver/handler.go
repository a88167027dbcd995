package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tiered-storage/api"
	"github.com/ruteri/tiered-storage/interfaces"
	"github.com/ruteri/tiered-storage/storage"
)

// ObjectStore is the subset of storage.Storage served by the handler.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetStream(ctx context.Context, key string, r io.ReadSeeker, ttl time.Duration) (bool, error)
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
	GetInfo(ctx context.Context, key string) (*interfaces.Info, error)
	Delete(ctx context.Context, key string) (bool, error)
}

var _ ObjectStore = (*storage.Storage)(nil)

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Handler processes object API requests against an ObjectStore.
type Handler struct {
	store         ObjectStore
	log           *slog.Logger
	maxObjectSize int64
}

// NewHandler creates a new object API handler. A maxObjectSize of zero
// selects api.DefaultMaxObjectSize.
func NewHandler(store ObjectStore, log *slog.Logger, maxObjectSize int64) *Handler {
	if maxObjectSize <= 0 {
		maxObjectSize = api.DefaultMaxObjectSize
	}
	return &Handler{
		store:         store,
		log:           log,
		maxObjectSize: maxObjectSize,
	}
}

// objectKey extracts the normalized key from the route wildcard. chi routes on
// the raw path when one is present, so only then is the wildcard escaped.
func objectKey(r *http.Request) (string, error) {
	key := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(key)
		if err != nil {
			return "", &RequestError{http.StatusBadRequest, fmt.Errorf("invalid key escaping: %w", err)}
		}
		key = unescaped
	}
	key = storage.NormalizeKey(key)
	if key == "" {
		return "", &RequestError{http.StatusBadRequest, errors.New("missing key")}
	}
	return key, nil
}

// statusFor maps storage errors onto HTTP status codes.
func statusFor(err error) int {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Object request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			"err", err)
	}
	writeJSON(w, status, api.ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleGet streams the value of a key.
//
// URL format: GET /api/objects/{key}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key, err := objectKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rc, err := h.store.GetStream(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn("Failed to stream object",
			slog.String("key", key),
			"err", err)
	}
}

// HandleHead reports whether a key exists.
//
// URL format: HEAD /api/objects/{key}
func (h *Handler) HandleHead(w http.ResponseWriter, r *http.Request) {
	key, err := objectKey(r)
	if err != nil {
		w.WriteHeader(statusFor(err))
		return
	}

	exists, err := h.store.Exists(r.Context(), key)
	if err != nil {
		h.log.Error("Exists failed", slog.String("key", key), "err", err)
		w.WriteHeader(statusFor(err))
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandlePut stores the request body under a key. The body is spooled to a
// temporary file so every provider can read it from the start.
//
// URL format: PUT /api/objects/{key}?ttl=30s
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	key, err := objectKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var ttl time.Duration
	if v := r.URL.Query().Get(api.TTLParam); v != "" {
		ttl, err = time.ParseDuration(v)
		if err != nil || ttl < 0 {
			h.writeError(w, r, &RequestError{http.StatusBadRequest, fmt.Errorf("invalid ttl %q", v)})
			return
		}
	}

	spool, err := os.CreateTemp("", "tiered-upload-")
	if err != nil {
		h.writeError(w, r, fmt.Errorf("failed to create upload spool: %w", err))
		return
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	body := http.MaxBytesReader(w, r.Body, h.maxObjectSize)
	if _, err := io.Copy(spool, body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, &RequestError{http.StatusRequestEntityTooLarge, err})
			return
		}
		h.writeError(w, r, &RequestError{http.StatusBadRequest, fmt.Errorf("failed to read request body: %w", err)})
		return
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		h.writeError(w, r, err)
		return
	}

	stored, err := h.store.SetStream(r.Context(), key, spool, ttl)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !stored {
		writeJSON(w, http.StatusConflict, api.ErrorResponse{Error: "value was not stored by every eligible provider"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes a key from every write-allowed provider.
//
// URL format: DELETE /api/objects/{key}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := objectKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	deleted, err := h.store.Delete(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.DeleteResponse{Deleted: deleted})
}

// HandleInfo returns the metadata of a key.
//
// URL format: GET /api/info/{key}
func (h *Handler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	key, err := objectKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	info, err := h.store.GetInfo(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.InfoResponse{Key: key, Info: info})
}
