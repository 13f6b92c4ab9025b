package broadcast

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"arena-relay/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxConnections is the maximum number of websocket connections allowed
	DefaultMaxConnections = 500

	// DefaultMaxPerIP is the maximum websocket connections per IP
	DefaultMaxPerIP = 10

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Envelope is the wire shape of every pushed message.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SnapshotFunc returns the messages a viewer gets right after joining tenantID.
type SnapshotFunc func(tenantID string) []Envelope

// Config tunes the hub. Zero values get the defaults above.
type Config struct {
	GlobalChat     bool // chat goes to every connection, not just the sender's tenant
	ChatMaxLen     int
	ChatRate       float64 // messages per second per connection
	ChatBurst      int
	ClientBuffer   int
	MaxConnections int
	MaxPerIP       int

	CheckOrigin func(r *http.Request) bool
	ClientIP    func(r *http.Request) string
	ValidTenant func(id string) bool
	Snapshot    SnapshotFunc
}

// Hub groups viewer connections by tenant and fans messages out to them.
// Publish never blocks: each client has a bounded queue and the oldest
// queued message is dropped when it fills.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	groups  map[string]map[*client]struct{}

	ipLimiter *ConnLimiter
}

// NewHub creates a hub. No goroutines run until a connection arrives.
func NewHub(cfg Config) *Hub {
	if cfg.ChatMaxLen <= 0 {
		cfg.ChatMaxLen = 120
	}
	if cfg.ChatRate <= 0 {
		cfg.ChatRate = 1
	}
	if cfg.ChatBurst <= 0 {
		cfg.ChatBurst = 5
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 64
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.MaxPerIP <= 0 {
		cfg.MaxPerIP = DefaultMaxPerIP
	}
	if cfg.ClientIP == nil {
		cfg.ClientIP = remoteIP
	}
	if cfg.ValidTenant == nil {
		cfg.ValidTenant = func(id string) bool { return id != "" && len(id) <= 128 }
	}

	h := &Hub{
		cfg:       cfg,
		clients:   make(map[*client]struct{}),
		groups:    make(map[string]map[*client]struct{}),
		ipLimiter: NewConnLimiter(cfg.MaxPerIP),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.cfg.CheckOrigin == nil {
		return true
	}
	if h.cfg.CheckOrigin(r) {
		return true
	}
	log.Printf("⚠️ WebSocket connection rejected from origin: %s", r.Header.Get("Origin"))
	metrics.RecordConnectionRejected("origin")
	return false
}

// Publish encodes once and queues the message on every client in tenantID's
// group. A tenant with no viewers costs one map lookup.
func (h *Hub) Publish(tenantID, event string, data any) {
	h.mu.RLock()
	group := h.groups[tenantID]
	if len(group) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*client, 0, len(group))
	for c := range group {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("⚠️ Failed to encode %s for %s: %v", event, tenantID, err)
		return
	}
	for _, c := range targets {
		c.deliver(msg)
	}
}

// PublishAll queues the message on every connected client, joined or not.
func (h *Hub) PublishAll(event string, data any) {
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("⚠️ Failed to encode %s: %v", event, err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.deliver(msg)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GroupSize returns the number of clients joined to tenantID.
func (h *Hub) GroupSize(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[tenantID])
}

// HandleWebSocket upgrades the request and serves the connection until it closes.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := h.cfg.ClientIP(r)

	if total := h.ClientCount(); total >= h.cfg.MaxConnections {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", total)
		metrics.RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !h.ipLimiter.Acquire(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		metrics.RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.ipLimiter.Release(ip)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		ip:   ip,
		send: make(chan []byte, h.cfg.ClientBuffer),
		done: make(chan struct{}),
		chat: rate.NewLimiter(rate.Limit(h.cfg.ChatRate), h.cfg.ChatBurst),
	}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("📱 Viewer %s connected from %s (%d total)", c.shortID(), c.ip, count)
	metrics.UpdateWSConnections(count)
}

// remove drops c from the hub and stops its writer. Safe to call repeatedly.
func (h *Hub) remove(c *client) {
	c.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		if c.tenant != "" {
			h.leaveLocked(c)
		}
		h.ipLimiter.Release(c.ip)
		count := len(h.clients)
		h.mu.Unlock()

		close(c.done)

		log.Printf("📱 Viewer %s disconnected (%d remaining)", c.shortID(), count)
		metrics.UpdateWSConnections(count)
	})
}

// join moves c into tenantID's group, leaving any previous one. The viewer
// gets the ack, then the snapshot, then anything published after it joined.
func (h *Hub) join(c *client, tenantID string) {
	h.mu.Lock()
	if c.tenant != "" {
		h.leaveLocked(c)
	}
	if h.cfg.Snapshot != nil {
		c.beginSync()
	}
	group, ok := h.groups[tenantID]
	if !ok {
		group = make(map[*client]struct{})
		h.groups[tenantID] = group
	}
	group[c] = struct{}{}
	c.tenant = tenantID
	c.enqueueEnvelope(Envelope{Event: EventJoined, Data: map[string]string{"serverId": tenantID, "viewerId": c.id}})
	h.mu.Unlock()

	if h.cfg.Snapshot != nil {
		c.endSync(h.cfg.Snapshot(tenantID))
	}
}

// leaveLocked removes c from its group. Caller holds h.mu.
func (h *Hub) leaveLocked(c *client) {
	if group, ok := h.groups[c.tenant]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.groups, c.tenant)
		}
	}
	c.tenant = ""
}

func (h *Hub) tenantOf(c *client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.tenant
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
			metrics.IncrementBroadcastSent()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(c, message)
	}
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
