package egress

import "sync"

type ackKey struct {
	target uint32
	seq    uint32
}

// AckTracker correlates outstanding envelopes with their acks. A pending
// retry checks Acked before re-enqueuing; if the peer's ack arrived during
// the retry sleep, the send is treated as complete instead of retried.
type AckTracker struct {
	mu    sync.Mutex
	acked map[ackKey]struct{}
}

// NewAckTracker constructs an empty AckTracker.
func NewAckTracker() *AckTracker {
	return &AckTracker{acked: make(map[ackKey]struct{})}
}

// Ack records that target acknowledged seq.
func (t *AckTracker) Ack(target, seq uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acked[ackKey{target, seq}] = struct{}{}
}

// Acked reports whether target has acknowledged seq, and forgets the
// record so the map doesn't grow unbounded across a session's lifetime.
func (t *AckTracker) Acked(target, seq uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := ackKey{target, seq}
	_, ok := t.acked[k]
	if ok {
		delete(t.acked, k)
	}
	return ok
}
