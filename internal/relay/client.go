package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/staffroom/staffroom/internal/types"
)

const authReplyWait = 15 * time.Second

// RelayError is a non-fatal error frame returned by the relay.
type RelayError struct {
	Message string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay: %s", e.Message)
}

// Client is the client half of the relay protocol: it dials the
// server, authenticates with the first frame, and exposes the inbound
// frame stream.
type Client struct {
	conn   *websocket.Conn
	log    *log.Logger
	frames chan *ServerFrame

	writeMu sync.Mutex

	closeOnce sync.Once
}

func DialClient(ctx context.Context, url string, logger *log.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	return &Client{
		conn:   conn,
		log:    logger,
		frames: make(chan *ServerFrame, 256),
	}, nil
}

// Authenticate sends the authenticate frame and waits for the reply.
// It must be called once, before Run. An auth_error reply is terminal:
// the server closes the connection and the client cannot retry on it.
func (c *Client) Authenticate(token string) (types.Identity, error) {
	if err := c.writeFrame(&ClientFrame{Type: TypeAuthenticate, Token: token}); err != nil {
		return types.Identity{}, err
	}

	c.conn.SetReadDeadline(time.Now().Add(authReplyWait))
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		var frame ServerFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return types.Identity{}, fmt.Errorf("read auth reply: %w", err)
		}

		switch frame.Type {
		case TypeAuthenticated:
			ident := types.Identity{Id: frame.UserId}
			if frame.User != nil {
				ident = *frame.User
			}
			return ident, nil
		case TypeAuthError:
			return types.Identity{}, &RelayError{Message: frame.Message}
		default:
			// frames that raced ahead of the auth reply are buffered
			select {
			case c.frames <- &frame:
			default:
				c.log.Println("dropping frame received before auth reply")
			}
		}
	}
}

// Run pumps inbound frames until the connection closes, then closes
// the frame channel.
func (c *Client) Run() {
	defer close(c.frames)

	for {
		var frame ServerFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("relay client: read: %v", err)
			}
			return
		}

		select {
		case c.frames <- &frame:
		default:
			c.log.Println("relay client: frame buffer full, dropping frame")
		}
	}
}

// SendMessage emits a send_message frame. The server reply arrives
// asynchronously on Frames as either message_received or error.
func (c *Client) SendMessage(token string, data SendMessageData) error {
	return c.writeFrame(&ClientFrame{
		Type:  TypeSendMessage,
		Token: token,
		Data:  &data,
	})
}

func (c *Client) Frames() <-chan *ServerFrame {
	return c.frames
}

func (c *Client) writeFrame(frame *ClientFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})

	return err
}
