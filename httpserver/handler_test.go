package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/tiered-storage/api"
	"github.com/ruteri/tiered-storage/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestServer serves a two-tier file stack.
func setupTestServer(t *testing.T, maxObjectSize int64) (http.Handler, *storage.Storage, []*storage.FileProvider) {
	logger := testLogger()

	s := storage.New(logger)
	var tiers []*storage.FileProvider
	for i := 0; i < 2; i++ {
		p, err := storage.NewFileProvider(t.TempDir(), logger)
		require.NoError(t, err)
		s.AddProvider(p)
		tiers = append(tiers, p)
	}

	srv, err := New(&api.HTTPServerConfig{
		Log:                      logger,
		GracefulShutdownDuration: time.Second,
	}, NewHandler(s, logger, maxObjectSize), nil)
	require.NoError(t, err)

	return srv.Handler(), s, tiers
}

func doRequest(h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandlePut_StoresInEveryTier(t *testing.T) {
	h, _, tiers := setupTestServer(t, 0)

	w := doRequest(h, http.MethodPut, "/api/objects/dir/hello.txt", strings.NewReader("hello world"))
	require.Equal(t, http.StatusNoContent, w.Code)

	for _, tier := range tiers {
		value, err := tier.Get(context.Background(), "dir/hello.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello world"), value)
	}
}

func TestHandleGet(t *testing.T) {
	h, s, _ := setupTestServer(t, 0)

	_, err := s.Set(context.Background(), "greeting", []byte("hi there"), 0)
	require.NoError(t, err)

	w := doRequest(h, http.MethodGet, "/api/objects/greeting", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "hi there", w.Body.String())
}

func TestHandleGet_NotFound(t *testing.T) {
	h, _, _ := setupTestServer(t, 0)

	w := doRequest(h, http.MethodGet, "/api/objects/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestHandleGet_Backfills(t *testing.T) {
	h, _, tiers := setupTestServer(t, 0)

	_, err := tiers[1].Set(context.Background(), "deep", []byte("payload"), 0)
	require.NoError(t, err)

	w := doRequest(h, http.MethodGet, "/api/objects/deep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payload", w.Body.String())

	exists, err := tiers[0].Exists(context.Background(), "deep")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHandleGet_EscapedKey(t *testing.T) {
	h, s, _ := setupTestServer(t, 0)

	w := doRequest(h, http.MethodPut, "/api/objects/docs/"+api.EscapeKey("a b#c.txt"), strings.NewReader("x"))
	require.Equal(t, http.StatusNoContent, w.Code)

	value, err := s.Get(context.Background(), "docs/a b#c.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), value)
}

func TestHandleHead(t *testing.T) {
	h, s, _ := setupTestServer(t, 0)

	w := doRequest(h, http.MethodHead, "/api/objects/key", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := s.Set(context.Background(), "key", []byte("v"), 0)
	require.NoError(t, err)

	w = doRequest(h, http.MethodHead, "/api/objects/key", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlePut_NotStoredEverywhere(t *testing.T) {
	h, _, tiers := setupTestServer(t, 0)
	for _, tier := range tiers {
		tier.WriteBlacklist(storage.Prefix("locked/"))
	}

	w := doRequest(h, http.MethodPut, "/api/objects/locked/file", strings.NewReader("v"))
	require.Equal(t, http.StatusConflict, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "not stored")
}

func TestHandlePut_TooLarge(t *testing.T) {
	h, s, _ := setupTestServer(t, 8)

	w := doRequest(h, http.MethodPut, "/api/objects/big", bytes.NewReader(make([]byte, 64)))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	exists, err := s.Exists(context.Background(), "big")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHandlePut_InvalidTTL(t *testing.T) {
	h, _, _ := setupTestServer(t, 0)

	w := doRequest(h, http.MethodPut, "/api/objects/key?ttl=soon", strings.NewReader("v"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(h, http.MethodPut, "/api/objects/key?ttl=-5s", strings.NewReader("v"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(h, http.MethodPut, "/api/objects/key?ttl=90s", strings.NewReader("v"))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandlePut_MissingKey(t *testing.T) {
	h, _, _ := setupTestServer(t, 0)

	w := doRequest(h, http.MethodPut, "/api/objects/", strings.NewReader("v"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDelete(t *testing.T) {
	h, s, tiers := setupTestServer(t, 0)

	_, err := s.Set(context.Background(), "gone", []byte("v"), 0)
	require.NoError(t, err)

	w := doRequest(h, http.MethodDelete, "/api/objects/gone", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.DeleteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Deleted)

	for _, tier := range tiers {
		exists, err := tier.Exists(context.Background(), "gone")
		require.NoError(t, err)
		assert.False(t, exists)
	}

	// Deleting again removes nothing
	w = doRequest(h, http.MethodDelete, "/api/objects/gone", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Deleted)
}

func TestHandleInfo(t *testing.T) {
	h, s, _ := setupTestServer(t, 0)

	_, err := s.Set(context.Background(), "info/key", []byte("hello"), 0)
	require.NoError(t, err)

	w := doRequest(h, http.MethodGet, "/api/info/info/key", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.InfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "info/key", resp.Key)
	require.NotNil(t, resp.Info)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", resp.Hash)
	require.NotNil(t, resp.Size)
	assert.Equal(t, int64(5), *resp.Size)

	w = doRequest(h, http.MethodGet, "/api/info/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_BackendFault(t *testing.T) {
	logger := testLogger()
	faulty := &storage.MockProvider{ProviderName: "faulty"}
	faulty.On("Exists", mock.Anything, "key").Return(false, errors.New("connection reset"))
	faulty.On("GetStream", mock.Anything, "key").Return(nil, errors.New("connection reset"))

	s := storage.New(logger)
	s.AddProvider(faulty)

	srv, err := New(&api.HTTPServerConfig{Log: logger}, NewHandler(s, logger, 0), nil)
	require.NoError(t, err)

	w := doRequest(srv.Handler(), http.MethodHead, "/api/objects/key", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = doRequest(srv.Handler(), http.MethodGet, "/api/objects/key", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	faulty.AssertExpectations(t)
}
