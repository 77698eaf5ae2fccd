package database

import (
	"github.com/stretchr/testify/mock"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockUserRepository) CreateUser(user UserRecord) (UserRecord, error) {
	args := m.Called(user)
	return args.Get(0).(UserRecord), args.Error(1)
}
func (m *MockUserRepository) UpdateUser(user UserRecord) error {
	args := m.Called(user)
	return args.Error(0)
}
func (m *MockUserRepository) GetUserByKey(hashedKey string) (UserRecord, error) {
	args := m.Called(hashedKey)
	return args.Get(0).(UserRecord), args.Error(1)
}
func (m *MockUserRepository) ListUsers() ([]UserRecord, error) {
	args := m.Called()
	if users, ok := args.Get(0).([]UserRecord); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockUserRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
