package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/staffroom/staffroom/internal/stats"
	"github.com/staffroom/staffroom/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateClosed
)

// Conn is one live persistent connection. Its identity is zero-valued
// until the first authenticate frame succeeds. All frame dispatch
// happens on the read pump, so state needs no lock.
type Conn struct {
	conn     *websocket.Conn
	relay    *Relay
	log      *log.Logger
	stats    stats.StatsProvider
	identity types.Identity
	state    connState
	send     chan *ServerFrame
	stop     chan struct{}
	stopOnce sync.Once
}

func NewConn(conn *websocket.Conn, relay *Relay, l *log.Logger, sp stats.StatsProvider) *Conn {
	return &Conn{
		conn:  conn,
		relay: relay,
		log:   l,
		stats: sp,
		send:  make(chan *ServerFrame, 256),
		stop:  make(chan struct{}),
	}
}

// Identity returns the principal authenticated on this connection.
// The zero Identity is returned before authentication.
func (c *Conn) Identity() types.Identity {
	return c.identity
}

func (c *Conn) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(frame)
			if err != nil {
				c.log.Println("failed to serialize frame:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}

			if frame.closeAfter {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Conn) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// malformed frames are dropped without a reply
			c.log.Println("error parsing frame:", err)
			c.stats.Incr(stats.FramesDropped)
			continue
		}

		frame.conn = c
		c.dispatch(&frame)
	}
}

func (c *Conn) dispatch(frame *ClientFrame) {
	if c.state == stateClosed {
		return
	}

	switch frame.Type {
	case TypeAuthenticate:
		c.relay.handleAuthenticate(c, frame)
	case TypeSendMessage:
		if c.state != stateAuthenticated {
			c.queueFrame(ErrorFrame("authentication required"))
			return
		}

		c.relay.handleSendMessage(c, frame)
	default:
		c.queueFrame(ErrorFrame("unknown frame type"))
	}
}

func (c *Conn) queueFrame(frame *ServerFrame) bool {
	select {
	case c.send <- frame:
	default:
		c.log.Println("failed to queue frame, channel is full")
		return false
	}

	return true
}

func (c *Conn) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Conn) stopConn() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Conn) cleanup() {
	if c.state == stateAuthenticated {
		c.relay.registry.Unregister(c)
	}
	c.state = stateClosed
	c.stopConn()
}
