package broadcast

import (
	"encoding/json"
	"sync"

	"arena-relay/internal/metrics"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// client is one viewer connection.
type client struct {
	id   string
	conn *websocket.Conn
	ip   string

	// send is never closed; done signals the writer to stop.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	tenant string // guarded by Hub.mu
	chat   *rate.Limiter

	// While syncing, published messages wait in held so they reach the
	// viewer after the join snapshot.
	syncMu  sync.Mutex
	syncing bool
	held    [][]byte
}

// deliver queues a published message, holding it back while a join
// snapshot is being read.
func (c *client) deliver(msg []byte) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	if !c.syncing {
		c.enqueue(msg)
		return
	}
	if len(c.held) >= cap(c.send) {
		c.held = c.held[1:]
		metrics.IncrementBroadcastDropped()
	}
	c.held = append(c.held, msg)
}

// beginSync starts holding published messages.
func (c *client) beginSync() {
	c.syncMu.Lock()
	c.syncing = true
	c.syncMu.Unlock()
}

// endSync queues the snapshot, then everything published while it was read.
func (c *client) endSync(snapshot []Envelope) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	for _, env := range snapshot {
		c.enqueueEnvelope(env)
	}
	for _, msg := range c.held {
		c.enqueue(msg)
	}
	c.held = nil
	c.syncing = false
}

// enqueue queues msg without blocking. When the buffer is full the oldest
// queued message is discarded to make room.
func (c *client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
		return
	default:
	}

	select {
	case <-c.send:
		metrics.IncrementBroadcastDropped()
	default:
	}

	select {
	case c.send <- msg:
	default:
		// lost a race with another publisher; drop this one instead
		metrics.IncrementBroadcastDropped()
	}
}

func (c *client) enqueueEnvelope(env Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (c *client) shortID() string {
	if len(c.id) > 8 {
		return c.id[:8]
	}
	return c.id
}
