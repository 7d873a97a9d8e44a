package relay

import (
	"context"
	"log"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/staffroom/staffroom/internal/identity"
	"github.com/staffroom/staffroom/internal/resource"
	"github.com/staffroom/staffroom/internal/stats"
	"github.com/staffroom/staffroom/internal/types"
)

const (
	verifyTimeout  = 10 * time.Second
	persistTimeout = 15 * time.Second
)

// Relay authenticates connections and fans out message events. Each
// connection moves Unauthenticated -> Authenticated -> Closed; a
// failed authentication is terminal.
type Relay struct {
	log      *log.Logger
	verifier identity.Verifier
	store    resource.MessageStore
	registry Registry
	stats    stats.StatsProvider
}

func NewRelay(logger *log.Logger, verifier identity.Verifier, store resource.MessageStore, registry Registry, sp stats.StatsProvider) *Relay {
	return &Relay{
		log:      logger,
		verifier: verifier,
		store:    store,
		registry: registry,
		stats:    sp,
	}
}

// ServeConn attaches a freshly upgraded websocket connection to the
// relay in the unauthenticated state and starts its pumps.
func (r *Relay) ServeConn(wsConn *websocket.Conn) *Conn {
	c := NewConn(wsConn, r, r.log, r.stats)
	go c.Write()
	go c.Read()

	return c
}

// handleAuthenticate verifies the bearer token of the first frame.
// Verification blocks the connection's read pump; frames from other
// connections are unaffected.
func (r *Relay) handleAuthenticate(c *Conn, frame *ClientFrame) {
	if c.state == stateAuthenticated {
		c.queueFrame(ErrorFrame("already authenticated"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	ident, err := r.verifier.Verify(ctx, frame.Token)
	if err != nil {
		r.log.Printf("authentication failed: %v", err)
		r.stats.Incr(stats.AuthFailures)

		// terminal: the auth_error frame is flushed, then the write
		// pump closes the connection. No frame is processed afterward.
		c.state = stateClosed
		c.queueFrame(AuthErrorFrame("invalid token"))
		return
	}

	c.identity = ident
	c.state = stateAuthenticated
	r.registry.Register(c)
	c.queueFrame(AuthenticatedFrame(ident))
}

// handleSendMessage persists the message on the sender's behalf and
// broadcasts it. Persistence failures are reported to the sender only;
// the message is never broadcast.
func (r *Relay) handleSendMessage(c *Conn, frame *ClientFrame) {
	if frame.Data == nil {
		c.queueFrame(ErrorFrame("missing message data"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	msg, err := r.store.CreateMessage(ctx, resource.CreateMessageParams{
		RoomId:   frame.Data.Room,
		SenderId: c.identity.Id,
		Text:     frame.Data.Text,
	})
	if err != nil {
		r.log.Printf("persist message for %q: %v", c.identity.Name, err)
		c.queueFrame(ErrorFrame("failed to persist message"))
		return
	}

	r.stats.Incr(stats.MessagesRelayed)
	r.registry.Broadcast(MessageReceivedFrame(msg), r.roomFilter(ctx, msg.RoomId))
}

// roomFilter restricts fan-out to members of the message's room. When
// membership cannot be resolved the frame goes to every connection and
// receivers filter by the room field themselves.
func (r *Relay) roomFilter(ctx context.Context, roomId int) func(types.Identity) bool {
	room, err := r.store.GetRoom(ctx, roomId)
	if err != nil || len(room.Members) == 0 {
		if err != nil {
			r.log.Printf("resolve members of room %d: %v", roomId, err)
		}
		return nil
	}

	return func(ident types.Identity) bool {
		return slices.Contains(room.Members, ident.Id)
	}
}
