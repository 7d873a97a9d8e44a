package relay

import (
	"time"

	"github.com/staffroom/staffroom/internal/types"
)

// Frame types exchanged over the persistent connection. Every frame is
// a JSON object with a "type" field.
const (
	TypeAuthenticate    = "authenticate"
	TypeAuthenticated   = "authenticated"
	TypeAuthError       = "auth_error"
	TypeSendMessage     = "send_message"
	TypeMessageReceived = "message_received"
	TypeError           = "error"
)

// ClientFrame is a frame received from a client connection.
type ClientFrame struct {
	Type  string           `json:"type"`
	Token string           `json:"token,omitempty"`
	Data  *SendMessageData `json:"data,omitempty"`

	conn *Conn `json:"-"`
}

type SendMessageData struct {
	Room int    `json:"room"`
	Text string `json:"text"`
}

// ServerFrame is a frame sent to a client connection.
type ServerFrame struct {
	Type      string          `json:"type"`
	Message   string          `json:"message,omitempty"`
	UserId    int             `json:"userId,omitempty"`
	User      *types.Identity `json:"user,omitempty"`
	Data      *types.Message  `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`

	// closeAfter tells the write pump to close the connection once
	// this frame has been flushed. Used for terminal auth failures.
	closeAfter bool
}

func AuthenticatedFrame(ident types.Identity) *ServerFrame {
	return &ServerFrame{
		Type:      TypeAuthenticated,
		UserId:    ident.Id,
		User:      &ident,
		Timestamp: Now(),
	}
}

func AuthErrorFrame(message string) *ServerFrame {
	return &ServerFrame{
		Type:       TypeAuthError,
		Message:    message,
		Timestamp:  Now(),
		closeAfter: true,
	}
}

func MessageReceivedFrame(msg types.Message) *ServerFrame {
	return &ServerFrame{
		Type:      TypeMessageReceived,
		Data:      &msg,
		Timestamp: Now(),
	}
}

func ErrorFrame(message string) *ServerFrame {
	return &ServerFrame{
		Type:      TypeError,
		Message:   message,
		Timestamp: Now(),
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
