package commands

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"arena-relay/internal/metrics"
)

const (
	maxCommandLen = 64
	maxArgs       = 32
)

// Queue is the operator-to-producer command lane. Enqueue is synchronous
// with the durable write; Drain hands every pending command to exactly one
// caller. Delivery is at-most-once: a consumer that crashes after draining
// loses those commands.
type Queue struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time

	// Metrics
	enqueued atomic.Uint64
	drained  atomic.Uint64
	failures atomic.Uint64
}

// QueueStats holds queue metrics
type QueueStats struct {
	Pending  int    `json:"pending"`
	Enqueued uint64 `json:"enqueued"`
	Drained  uint64 `json:"drained"`
	Failures uint64 `json:"failures"`
}

// NewQueue wraps store. Commands already in the store stay pending.
func NewQueue(store Store) *Queue {
	q := &Queue{store: store, now: time.Now}
	if n, err := store.Len(); err == nil {
		metrics.SetCommandsPending(n)
		log.Printf("📦 Command queue ready (%d pending)", n)
	} else {
		log.Printf("⚠️ Command queue could not count pending commands: %v", err)
	}
	return q
}

// Enqueue validates and durably appends a command.
func (q *Queue) Enqueue(name string, args []json.RawMessage) (Command, error) {
	if name == "" || utf8.RuneCountInString(name) > maxCommandLen || !utf8.ValidString(name) {
		return Command{}, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidCommand, maxCommandLen)
	}
	if len(args) > maxArgs {
		return Command{}, fmt.Errorf("%w: at most %d args", ErrInvalidCommand, maxArgs)
	}

	cmd := Command{
		Command:    name,
		Args:       normalizeArgs(args),
		EnqueuedAt: q.now().UnixMilli(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Append(cmd); err != nil {
		q.failures.Add(1)
		metrics.RecordCommandStoreError("enqueue")
		log.Printf("❌ Failed to persist command %s: %v", name, err)
		return Command{}, fmt.Errorf("persist command: %w", err)
	}
	q.enqueued.Add(1)

	metrics.RecordCommandsEnqueued()

	pending, err := q.store.Len()
	if err != nil {
		log.Printf("⚠️ Command queued: %s (pending count unavailable: %v)", name, err)
		return cmd, nil
	}
	metrics.SetCommandsPending(pending)
	log.Printf("📥 Command queued: %s (%d pending)", name, pending)
	return cmd, nil
}

// Drain returns every pending command, oldest first, and leaves the queue empty.
func (q *Queue) Drain() ([]Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmds, err := q.store.Drain()
	if err != nil {
		q.failures.Add(1)
		metrics.RecordCommandStoreError("drain")
		log.Printf("❌ Failed to drain commands: %v", err)
		return nil, fmt.Errorf("drain commands: %w", err)
	}
	for i := range cmds {
		cmds[i].Args = normalizeArgs(cmds[i].Args)
	}

	q.drained.Add(uint64(len(cmds)))
	metrics.RecordCommandsDrained(len(cmds))
	if len(cmds) > 0 {
		log.Printf("📤 Drained %d commands", len(cmds))
	}
	return cmds, nil
}

// Stats returns current queue statistics
// Pending is 0 when the store cannot be counted.
func (q *Queue) Stats() QueueStats {
	pending, err := q.store.Len()
	if err != nil {
		log.Printf("⚠️ Command queue stats: %v", err)
		pending = 0
	}
	return QueueStats{
		Pending:  pending,
		Enqueued: q.enqueued.Load(),
		Drained:  q.drained.Load(),
		Failures: q.failures.Load(),
	}
}

// Close closes the underlying store.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Close()
}
