package relay

import (
	"log"

	"github.com/staffroom/staffroom/internal/stats"
	"github.com/staffroom/staffroom/internal/types"
)

// Registry routes frames to the live connection of each authenticated
// identity. The in-memory implementation below is process-local; a
// multi-instance deployment must swap in a shared broker behind this
// interface, since an in-process map does not survive horizontal
// scaling.
type Registry interface {
	Register(c *Conn)
	Unregister(c *Conn)
	Broadcast(frame *ServerFrame, match func(types.Identity) bool)
}

type broadcastReq struct {
	frame *ServerFrame
	match func(types.Identity) bool
}

// InMemoryRegistry serializes all map access through a single
// goroutine consuming register, unregister, and broadcast requests.
type InMemoryRegistry struct {
	log            *log.Logger
	stats          stats.StatsProvider
	conns          map[int]*Conn
	registerChan   chan *Conn
	unregisterChan chan *Conn
	broadcastChan  chan *broadcastReq
	stop           chan struct{}
	done           chan struct{}
}

func NewInMemoryRegistry(logger *log.Logger, sp stats.StatsProvider) *InMemoryRegistry {
	return &InMemoryRegistry{
		log:            logger,
		stats:          sp,
		conns:          make(map[int]*Conn),
		registerChan:   make(chan *Conn),
		unregisterChan: make(chan *Conn),
		broadcastChan:  make(chan *broadcastReq, 256),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (r *InMemoryRegistry) Run() {
	for {
		select {
		case c := <-r.registerChan:
			r.addConn(c)
		case c := <-r.unregisterChan:
			r.removeConn(c)
		case req := <-r.broadcastChan:
			r.fanout(req)
		case <-r.stop:
			r.log.Println("registry shutting down")
			for _, c := range r.conns {
				c.stopConn()
			}

			close(r.done)
			return
		}
	}
}

// Register binds c to its identity, replacing and closing any prior
// connection for the same identity. At most one live connection per
// identity.
func (r *InMemoryRegistry) Register(c *Conn) {
	select {
	case r.registerChan <- c:
	case <-r.stop:
	}
}

func (r *InMemoryRegistry) Unregister(c *Conn) {
	select {
	case r.unregisterChan <- c:
	case <-r.stop:
	}
}

// Broadcast queues frame on every registered connection matching the
// optional predicate. Delivery is best-effort and at-most-once per
// call: connections with a full send buffer are skipped and logged,
// never aborting the loop.
func (r *InMemoryRegistry) Broadcast(frame *ServerFrame, match func(types.Identity) bool) {
	select {
	case r.broadcastChan <- &broadcastReq{frame: frame, match: match}:
	case <-r.stop:
	}
}

func (r *InMemoryRegistry) addConn(c *Conn) {
	if prior, ok := r.conns[c.identity.Id]; ok && prior != c {
		r.log.Printf("replacing connection for identity %d", c.identity.Id)
		prior.stopConn()
		r.stats.Decr(stats.ActiveConnections)
	}

	r.log.Printf("registering connection for %q", c.identity.Name)
	r.conns[c.identity.Id] = c
	r.stats.Incr(stats.ActiveConnections)
}

func (r *InMemoryRegistry) removeConn(c *Conn) {
	// a replaced connection must not evict its replacement
	if cur, ok := r.conns[c.identity.Id]; ok && cur == c {
		r.log.Printf("removing connection for %q", c.identity.Name)
		delete(r.conns, c.identity.Id)
		r.stats.Decr(stats.ActiveConnections)
	}
}

func (r *InMemoryRegistry) fanout(req *broadcastReq) {
	for _, c := range r.conns {
		if req.match != nil && !req.match(c.identity) {
			continue
		}

		if !c.queueFrame(req.frame) {
			r.log.Printf("skipping connection for identity %d", c.identity.Id)
		}
	}
}

func (r *InMemoryRegistry) Shutdown() {
	close(r.stop)
	<-r.done
}
