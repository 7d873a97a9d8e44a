package resource

import (
	"context"

	"github.com/staffroom/staffroom/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockMessageStore) ListMessages(ctx context.Context, roomId, limit, offset int) (types.Page[types.Message], error) {
	args := m.Called(ctx, roomId, limit, offset)
	return args.Get(0).(types.Page[types.Message]), args.Error(1)
}

func (m *MockMessageStore) ListRooms(ctx context.Context) (types.Page[types.Room], error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Page[types.Room]), args.Error(1)
}

func (m *MockMessageStore) GetRoom(ctx context.Context, roomId int) (types.Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(types.Room), args.Error(1)
}
