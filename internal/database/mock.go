package database

import (
	"github.com/stretchr/testify/mock"
)

type MockAttachmentRepository struct {
	mock.Mock
}

func (m *MockAttachmentRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockAttachmentRepository) CreateAttachment(params CreateAttachmentParams) (Attachment, error) {
	args := m.Called(params)
	return args.Get(0).(Attachment), args.Error(1)
}
func (m *MockAttachmentRepository) GetAttachment(id string) (Attachment, error) {
	args := m.Called(id)
	return args.Get(0).(Attachment), args.Error(1)
}
func (m *MockAttachmentRepository) ListAttachmentsByOwner(ownerId int) ([]Attachment, error) {
	args := m.Called(ownerId)
	return args.Get(0).([]Attachment), args.Error(1)
}
func (m *MockAttachmentRepository) DeleteAttachment(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
