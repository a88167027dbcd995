package storage

import (
	"context"
	"io"
	"time"

	"github.com/ruteri/tiered-storage/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockProvider mocks the interfaces.Provider interface. Access checks go
// through the embedded AccessPolicy rather than the mock.
type MockProvider struct {
	mock.Mock
	AccessPolicy

	ProviderName string
}

var _ interfaces.Provider = (*MockProvider)(nil)

// Exists mocks the Exists method
func (m *MockProvider) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// Set mocks the Set method
func (m *MockProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, ttl)
	return args.Bool(0), args.Error(1)
}

// SetStream mocks the SetStream method
func (m *MockProvider) SetStream(ctx context.Context, key string, r io.ReadSeeker, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, r, ttl)
	return args.Bool(0), args.Error(1)
}

// SetFile mocks the SetFile method
func (m *MockProvider) SetFile(ctx context.Context, key string, path string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, path, ttl)
	return args.Bool(0), args.Error(1)
}

// Get mocks the Get method
func (m *MockProvider) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	value, _ := args.Get(0).([]byte)
	return value, args.Error(1)
}

// GetStream mocks the GetStream method
func (m *MockProvider) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

// GetInfo mocks the GetInfo method
func (m *MockProvider) GetInfo(ctx context.Context, key string) (*interfaces.Info, error) {
	args := m.Called(ctx, key)
	info, _ := args.Get(0).(*interfaces.Info)
	return info, args.Error(1)
}

// Delete mocks the Delete method
func (m *MockProvider) Delete(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// Name returns ProviderName, or "mock" when unset.
func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// LocationURI returns a mock:// URI for the provider.
func (m *MockProvider) LocationURI() string {
	return "mock://" + m.Name()
}
