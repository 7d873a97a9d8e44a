package lifecycle

import (
	"context"

	"github.com/staffroom/staffroom/internal/relay"
	"github.com/staffroom/staffroom/internal/types"
	"github.com/staffroom/staffroom/internal/upload"
	"github.com/stretchr/testify/mock"
)

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, token string, file upload.File, onProgress upload.ProgressFunc) (types.Attachment, error) {
	args := m.Called(ctx, token, file, onProgress)
	return args.Get(0).(types.Attachment), args.Error(1)
}

type MockFrameSender struct {
	mock.Mock
}

func (m *MockFrameSender) SendMessage(token string, data relay.SendMessageData) error {
	args := m.Called(token, data)
	return args.Error(0)
}
