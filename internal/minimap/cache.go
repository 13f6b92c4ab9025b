package minimap

import (
	"sync"
	"time"
)

// Cache stores encoded PNGs per server with LRU eviction. Viewers poll the
// minimap far more often than producers move players, so a short TTL keeps
// rendering off the hot path.
type Cache struct {
	mu      sync.Mutex
	images  map[string]*cachedImage
	order   []string // LRU order (oldest first)
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cachedImage struct {
	png        []byte
	renderedAt time.Time
}

const (
	DefaultMaxCached = 256
	DefaultCacheTTL  = 500 * time.Millisecond
)

// NewCache creates a new PNG cache. A zero ttl disables caching.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxCached
	}
	return &Cache{
		images:  make(map[string]*cachedImage),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a fresh cached PNG for serverID.
func (c *Cache) Get(serverID string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cached, exists := c.images[serverID]
	if !exists {
		return nil, false
	}
	if c.now().Sub(cached.renderedAt) > c.ttl {
		delete(c.images, serverID)
		c.removeFromOrder(serverID)
		return nil, false
	}

	c.touch(serverID)
	return cached.png, true
}

// Put stores png for serverID, evicting the least recently used entry when full.
func (c *Cache) Put(serverID string, png []byte) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.images[serverID]; !exists && len(c.images) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.images, oldest)
	}

	c.images[serverID] = &cachedImage{png: png, renderedAt: c.now()}
	c.touch(serverID)
}

// Len returns the number of cached images.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

// touch moves serverID to the most recently used end.
func (c *Cache) touch(serverID string) {
	c.removeFromOrder(serverID)
	c.order = append(c.order, serverID)
}

func (c *Cache) removeFromOrder(serverID string) {
	for i, id := range c.order {
		if id == serverID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
