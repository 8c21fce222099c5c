package egress

import (
	"sync"

	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// PendingQueue buffers OutgoingEnvelopes for targets that were offline at
// send time. Each target's queue is a FIFO with a per-target cap and
// oldest-entry eviction once that cap is reached.
type PendingQueue struct {
	mu           sync.Mutex
	perTarget    map[uint32][]*models.OutgoingEnvelope
	maxPerTarget int
}

// NewPendingQueue constructs a PendingQueue with the given per-target cap.
// A non-positive cap disables eviction (unbounded growth).
func NewPendingQueue(maxPerTarget int) *PendingQueue {
	return &PendingQueue{
		perTarget:    make(map[uint32][]*models.OutgoingEnvelope),
		maxPerTarget: maxPerTarget,
	}
}

// Push appends env to target's queue, evicting the oldest entry first if the
// queue is already at capacity.
func (q *PendingQueue) Push(target uint32, env *models.OutgoingEnvelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.perTarget[target]
	if q.maxPerTarget > 0 && len(queue) >= q.maxPerTarget {
		queue = queue[1:]
	}
	q.perTarget[target] = append(queue, env)
}

// Drain removes and returns every envelope queued for target, in FIFO
// order, for delivery when that target reconnects.
func (q *PendingQueue) Drain(target uint32) []*models.OutgoingEnvelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.perTarget[target]
	delete(q.perTarget, target)
	return queue
}

// Len reports how many envelopes are queued for target.
func (q *PendingQueue) Len(target uint32) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.perTarget[target])
}
