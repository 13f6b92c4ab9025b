package broadcast

import (
	"sync"
	"sync/atomic"
)

// ConnLimiter caps concurrent websocket connections per IP. An IP with no
// open connections holds no entry, so churn through many addresses costs nothing.
type ConnLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	maxPerIP    int

	rejectedCount atomic.Uint64
}

// NewConnLimiter creates a per-IP connection limiter. maxPerIP <= 0 disables it.
func NewConnLimiter(maxPerIP int) *ConnLimiter {
	return &ConnLimiter{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
	}
}

// Acquire reserves a slot for ip, reporting false when the IP is at its cap.
func (l *ConnLimiter) Acquire(ip string) bool {
	if l.maxPerIP <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[ip] >= l.maxPerIP {
		l.rejectedCount.Add(1)
		return false
	}
	l.connections[ip]++
	return true
}

// Release frees a slot reserved by Acquire and forgets the IP at zero.
func (l *ConnLimiter) Release(ip string) {
	if l.maxPerIP <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.connections[ip]
	if !ok {
		return
	}
	if n <= 1 {
		delete(l.connections, ip)
		return
	}
	l.connections[ip] = n - 1
}

// Count returns the current number of connections held by ip.
func (l *ConnLimiter) Count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[ip]
}

// Tracked returns how many IPs currently hold at least one slot.
func (l *ConnLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.connections)
}

// Rejected returns how many connections were refused.
func (l *ConnLimiter) Rejected() uint64 {
	return l.rejectedCount.Load()
}
