package identity

import (
	"context"

	"github.com/staffroom/staffroom/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, token string) (types.Identity, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(types.Identity), args.Error(1)
}
