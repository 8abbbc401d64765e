package realtime

import "sync"

// DefaultQueueLimit bounds how many commands may wait for a reconnect.
const DefaultQueueLimit = 32

// commandQueue is a bounded FIFO of marshalled commands issued while the
// socket was not connected. The bound keeps memory flat during long
// outages and turns overflow into an explicit ErrBackpressure for the
// caller instead of silent staleness.
type commandQueue struct {
	mu    sync.Mutex
	limit int
	items [][]byte
}

func newCommandQueue(limit int) *commandQueue {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	return &commandQueue{limit: limit}
}

// push appends a command, or fails with ErrBackpressure when full.
func (q *commandQueue) push(payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.limit {
		return ErrBackpressure
	}
	q.items = append(q.items, payload)
	return nil
}

// drain removes and returns all queued commands in FIFO order.
func (q *commandQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// requeue puts unsent commands back at the head, preserving order. Used
// when a flush is interrupted by another disconnect.
func (q *commandQueue) requeue(items [][]byte) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(items, q.items...)
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
