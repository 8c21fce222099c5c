// Package registry implements the Connection Registry: a
// thread-safe table of live sessions keyed by a monotonically-increasing
// connection id, plus a parallel history table for post-mortem accounting.
//
// Generalizes internal/session.SessionManager's map+mutex pattern; the
// JSON-file persistence the original design used for TransferSession is
// dropped here, but the "create / get / remove / snapshot" method shape
// carries over directly.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// Registry is a concurrent-safe live-session table with a parallel history
// table.
type Registry struct {
	nextID atomic.Uint32

	mu   sync.RWMutex
	live map[uint32]*models.Session

	histMu  sync.RWMutex
	history map[uint32]models.SessionSnapshot
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		live:    make(map[uint32]*models.Session),
		history: make(map[uint32]models.SessionSnapshot),
	}
}

// NextID returns a strictly increasing connection id. Ids are never reused
// within a process lifetime: the counter only increments.
func (r *Registry) NextID() uint32 {
	return r.nextID.Add(1)
}

// Create registers a new session, assigning it a fresh id.
func (r *Registry) Create(transport models.Transport, remoteAddr string, sender models.Sender) *models.Session {
	id := r.NextID()
	s := models.NewSession(id, transport, remoteAddr, sender)

	r.mu.Lock()
	r.live[id] = s
	r.mu.Unlock()

	return s
}

// Get returns a live session by id.
func (r *Registry) Get(id uint32) (*models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.live[id]
	return s, ok
}

// Remove atomically moves a session from live to history.
// Calling Remove twice for the same id is a no-op the second time.
func (r *Registry) Remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[id]
	if !ok {
		return
	}
	delete(r.live, id)

	s.MarkDisconnected()

	r.histMu.Lock()
	r.history[id] = s.Snapshot()
	r.histMu.Unlock()
}

// SnapshotLive returns a non-blocking copy of currently live sessions.
// Readers tolerate concurrent mutation: this is a point-in-time copy, not a
// live view.
func (r *Registry) SnapshotLive() []*models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Session, 0, len(r.live))
	for _, s := range r.live {
		out = append(out, s)
	}
	return out
}

// History returns a snapshot of a disconnected session's final counters, if
// it was ever removed.
func (r *Registry) History(id uint32) (models.SessionSnapshot, bool) {
	r.histMu.RLock()
	defer r.histMu.RUnlock()
	snap, ok := r.history[id]
	return snap, ok
}

// Len returns the number of currently live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
