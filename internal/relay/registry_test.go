package relay

import (
	"testing"
	"time"

	"github.com/staffroom/staffroom/internal/testutil"
	"github.com/staffroom/staffroom/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T, ident types.Identity, buffer int) *Conn {
	return &Conn{
		identity: ident,
		state:    stateAuthenticated,
		send:     make(chan *ServerFrame, buffer),
		stop:     make(chan struct{}),
		log:      testutil.TestLogger(t),
	}
}

func newTestRegistry(t *testing.T) *InMemoryRegistry {
	r := NewInMemoryRegistry(testutil.TestLogger(t), newMockStats())
	go r.Run()
	t.Cleanup(r.Shutdown)

	return r
}

func TestRegistry_registerReplacesPriorConnection(t *testing.T) {
	r := newTestRegistry(t)

	first := newTestConn(t, types.Identity{Id: 1, Name: "a"}, 1)
	second := newTestConn(t, types.Identity{Id: 1, Name: "a"}, 1)

	r.Register(first)
	r.Register(second)

	select {
	case <-first.stop:
		// replaced connection is stopped
	case <-time.After(time.Second):
		t.Fatal("expected the replaced connection to be stopped")
	}

	r.Broadcast(ErrorFrame("ping"), nil)

	select {
	case <-second.send:
	case <-time.After(time.Second):
		t.Fatal("expected the replacement connection to receive the broadcast")
	}
	assert.Empty(t, first.send, "expected no frame on the replaced connection")
}

func TestRegistry_unregisterIgnoresStaleConnection(t *testing.T) {
	r := newTestRegistry(t)

	stale := newTestConn(t, types.Identity{Id: 1}, 1)
	current := newTestConn(t, types.Identity{Id: 1}, 1)

	r.Register(stale)
	r.Register(current)
	// the stale connection's cleanup must not evict its replacement
	r.Unregister(stale)

	r.Broadcast(ErrorFrame("ping"), nil)

	select {
	case <-current.send:
	case <-time.After(time.Second):
		t.Fatal("expected the current connection to remain registered")
	}
}

func TestRegistry_broadcastPredicate(t *testing.T) {
	r := newTestRegistry(t)

	member := newTestConn(t, types.Identity{Id: 1}, 1)
	outsider := newTestConn(t, types.Identity{Id: 2}, 1)

	r.Register(member)
	r.Register(outsider)

	r.Broadcast(ErrorFrame("ping"), func(ident types.Identity) bool {
		return ident.Id == 1
	})

	select {
	case <-member.send:
	case <-time.After(time.Second):
		t.Fatal("expected the matching connection to receive the frame")
	}
	assert.Empty(t, outsider.send, "expected the non-matching connection to be skipped")
}

func TestRegistry_broadcastSkipsFullBuffers(t *testing.T) {
	r := newTestRegistry(t)

	full := newTestConn(t, types.Identity{Id: 1}, 1)
	full.send <- ErrorFrame("pre-filled")
	healthy := newTestConn(t, types.Identity{Id: 2}, 4)

	r.Register(full)
	r.Register(healthy)

	r.Broadcast(ErrorFrame("ping"), nil)

	select {
	case frame := <-healthy.send:
		require.NotNil(t, frame)
	case <-time.After(time.Second):
		t.Fatal("expected the broadcast to continue past a full connection")
	}
	assert.Len(t, full.send, 1, "expected the full connection to be skipped, not blocked on")
}
