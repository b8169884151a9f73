package transport

import (
	"sync"
	"time"
)

// PendingMessage is an outbound message buffered while the broker is
// unreachable.
type PendingMessage struct {
	Topic      string
	Payload    []byte
	QoS        byte
	Retain     bool
	EnqueuedAt time.Time
}

// pendingQueue is a bounded FIFO of undelivered messages. When full, the
// oldest message is dropped to admit the newest.
type pendingQueue struct {
	mu      sync.Mutex
	max     int
	items   []PendingMessage
	dropped uint64
}

func newPendingQueue(max int) *pendingQueue {
	return &pendingQueue{max: max}
}

// add appends a message, evicting the oldest when the queue is full.
// Reports whether an eviction happened.
func (q *pendingQueue) add(m PendingMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	evicted := false
	if len(q.items) >= q.max {
		q.items = q.items[1:]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, m)
	return evicted
}

// takeAll removes and returns every buffered message in FIFO order.
func (q *pendingQueue) takeAll() []PendingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *pendingQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
