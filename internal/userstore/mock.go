package userstore

import (
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/stretchr/testify/mock"
)

// MockStore is a testify mock of Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Register(username, password string) error {
	args := m.Called(username, password)
	return args.Error(0)
}

func (m *MockStore) Authenticate(username, password string) (types.User, error) {
	args := m.Called(username, password)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
