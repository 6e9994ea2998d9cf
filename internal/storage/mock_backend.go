package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBackend is a testify mock of Backend.
type MockBackend struct {
	mock.Mock
}

var _ Backend = (*MockBackend)(nil)

func (m *MockBackend) GetObject(ctx context.Context, key string, offset int64) (io.ReadCloser, int64, error) {
	args := m.Called(ctx, key, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.Get(1).(int64), args.Error(2)
}

func (m *MockBackend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	args := m.Called(ctx, key, body, size)
	return args.Error(0)
}

func (m *MockBackend) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockBackend) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	args := m.Called(ctx, srcKey, dstKey)
	return args.Error(0)
}

func (m *MockBackend) ObjectExists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockBackend) Type() string {
	return "mock"
}

func (m *MockBackend) Close() error {
	return nil
}
