package storagemock

import (
	"context"

	"github.com/meterbridge/meterbridge/pkg/storage"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSessionState(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) SetSessionState(ctx context.Context, key string, state []byte) error {
	args := m.Called(ctx, key, state)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
