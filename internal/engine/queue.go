package engine

import (
	"sync"

	"github.com/google/uuid"
)

// submitQueue is a FIFO of record IDs with membership dedup. Enqueueing an
// ID already queued is a no-op, so a record flagged by several callers
// between drains is still submitted once.
type submitQueue struct {
	mu      sync.Mutex
	order   []uuid.UUID
	present map[uuid.UUID]struct{}
}

func newSubmitQueue() *submitQueue {
	return &submitQueue{present: make(map[uuid.UUID]struct{})}
}

// Push appends id unless it is already queued. Reports whether it was added.
func (q *submitQueue) Push(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.present[id]; ok {
		return false
	}
	q.present[id] = struct{}{}
	q.order = append(q.order, id)
	return true
}

// Drain removes and returns all queued IDs in insertion order.
func (q *submitQueue) Drain() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.order
	q.order = nil
	q.present = make(map[uuid.UUID]struct{})
	return out
}

func (q *submitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
