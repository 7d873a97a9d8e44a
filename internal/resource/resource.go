package resource

import (
	"context"
	"fmt"

	"github.com/staffroom/staffroom/internal/types"
)

// MessageStore is the slice of the external resource API this
// subsystem depends on. Messages and rooms are persisted remotely;
// this package never owns storage.
type MessageStore interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error)
	ListMessages(ctx context.Context, roomId, limit, offset int) (types.Page[types.Message], error)
	ListRooms(ctx context.Context) (types.Page[types.Room], error)
	GetRoom(ctx context.Context, roomId int) (types.Room, error)
}

type CreateMessageParams struct {
	RoomId      int                `json:"room"`
	SenderId    int                `json:"sender"`
	Text        string             `json:"text,omitempty"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
}

// PersistFailed indicates the resource API rejected a message write.
type PersistFailed struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *PersistFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("persist message: %s", e.Err.Error())
	}

	return fmt.Sprintf("persist message: status %d: %s", e.StatusCode, e.Message)
}

func (e *PersistFailed) Unwrap() error {
	return e.Err
}

// TokenSource supplies the bearer token for resource API calls and can
// refresh it once when the API answers 401. Token refresh itself is
// owned by the external auth service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that never refreshes. Refresh returns
// the same token, so a 401 retry fails with the original status.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error)   { return string(s), nil }
func (s StaticToken) Refresh(context.Context) (string, error) { return string(s), nil }
