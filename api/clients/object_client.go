package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/tiered-storage/api"
	"github.com/ruteri/tiered-storage/interfaces"
	"github.com/stretchr/testify/mock"
)

// ObjectClient implements api.ObjectProvider over HTTP.
type ObjectClient struct {
	// ServerAddr is the base URL of the object API server
	ServerAddr string

	// HTTPClient is used for requests; http.DefaultClient when nil
	HTTPClient *http.Client
}

var _ api.ObjectProvider = (*ObjectClient)(nil)

func (c *ObjectClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *ObjectClient) url(prefix, key string, query url.Values) string {
	u := strings.TrimRight(c.ServerAddr, "/") + prefix + api.EscapeKey(key)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *ObjectClient) do(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request %s %s: %w", method, target, err)
	}
	return resp, nil
}

// responseError turns a non-success response into an error, reading the
// JSON error body when present.
func responseError(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return interfaces.ErrNotFound
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil || len(bodyBytes) == 0 {
		return fmt.Errorf("object endpoint returned status %d", resp.StatusCode)
	}

	var errResp api.ErrorResponse
	if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error != "" {
		if resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", interfaces.ErrInvalidKey, errResp.Error)
		}
		return fmt.Errorf("object endpoint returned error %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("object endpoint returned error %d: %s", resp.StatusCode, string(bodyBytes))
}

// Exists reports whether the server holds key.
func (c *ObjectClient) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, c.url(api.ObjectsPath, key, nil), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("object endpoint returned status %d", resp.StatusCode)
	}
}

// Get fetches the value of key. Returns ErrNotFound on a miss.
func (c *ObjectClient) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := c.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("could not read object body: %w", err)
	}
	return data, nil
}

// GetStream returns the response body for key. The caller must close it.
func (c *ObjectClient) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url(api.ObjectsPath, key, nil), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp.Body, nil
}

// Set uploads body under key. It reports false when the server could not
// store the value in every eligible tier.
func (c *ObjectClient) Set(ctx context.Context, key string, body io.Reader, ttl time.Duration) (bool, error) {
	var query url.Values
	if ttl > 0 {
		query = url.Values{api.TTLParam: []string{ttl.String()}}
	}

	resp, err := c.do(ctx, http.MethodPut, c.url(api.ObjectsPath, key, query), body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, responseError(resp)
	}
}

// Delete removes key from the server's tiers.
func (c *ObjectClient) Delete(ctx context.Context, key string) (bool, error) {
	resp, err := c.do(ctx, http.MethodDelete, c.url(api.ObjectsPath, key, nil), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, responseError(resp)
	}

	var parsed api.DeleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("could not parse delete response: %w", err)
	}
	return parsed.Deleted, nil
}

// Info fetches the metadata of key.
func (c *ObjectClient) Info(ctx context.Context, key string) (*api.InfoResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url(api.InfoPath, key, nil), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var parsed api.InfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not parse info response: %w", err)
	}
	return &parsed, nil
}

// MockObjectProvider implements a mock api.ObjectProvider for testing.
type MockObjectProvider struct {
	mock.Mock
}

var _ api.ObjectProvider = (*MockObjectProvider)(nil)

func (m *MockObjectProvider) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectProvider) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockObjectProvider) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockObjectProvider) Set(ctx context.Context, key string, body io.Reader, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, body, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectProvider) Delete(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectProvider) Info(ctx context.Context, key string) (*api.InfoResponse, error) {
	args := m.Called(ctx, key)
	info, _ := args.Get(0).(*api.InfoResponse)
	return info, args.Error(1)
}
