package transport

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// DialRetry implements exponential backoff with jitter and a simple circuit
// breaker for client-side connection attempts (cmd/client reconnecting to
// a listener). This is distinct from the egress pipeline's fixed
// per-priority retry table (internal/egress): that table governs
// already-accepted application messages, while DialRetry governs whether
// to keep attempting to establish the transport connection at all.
type DialRetry struct {
	MaxConsecutiveFailures int
	BaseBackoff            time.Duration
	MaxBackoff             time.Duration
	BackoffMultiplier      float64
	JitterFactor           float64

	mu       sync.Mutex
	failures map[string]int
	state    map[string]CircuitState
}

// NewDialRetry creates a DialRetry with sane defaults.
func NewDialRetry() *DialRetry {
	return &DialRetry{
		MaxConsecutiveFailures: 5,
		BaseBackoff:            100 * time.Millisecond,
		MaxBackoff:             30 * time.Second,
		BackoffMultiplier:      2.0,
		JitterFactor:           0.1,
		failures:               make(map[string]int),
		state:                  make(map[string]CircuitState),
	}
}

// NextBackoff calculates the next backoff duration given the attempt count.
func (r *DialRetry) NextBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	backoff := float64(r.BaseBackoff) * math.Pow(r.BackoffMultiplier, float64(attempt-1))
	if backoff > float64(r.MaxBackoff) {
		backoff = float64(r.MaxBackoff)
	}
	jitter := backoff * r.JitterFactor * (rand.Float64()*2 - 1) // +/- jitterFactor
	backoff += jitter
	if backoff < float64(r.BaseBackoff) {
		backoff = float64(r.BaseBackoff)
	}
	return time.Duration(backoff)
}

// RecordSuccess resets the failure count and closes the circuit for target.
func (r *DialRetry) RecordSuccess(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, target)
	r.state[target] = CircuitClosed
}

// RecordFailure increments the failure count for target and opens the
// circuit once MaxConsecutiveFailures is exceeded.
func (r *DialRetry) RecordFailure(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[target]++
	if r.failures[target] > r.MaxConsecutiveFailures {
		r.state[target] = CircuitOpen
	}
}

// CircuitStateFor returns the current circuit state for target.
func (r *DialRetry) CircuitStateFor(target string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.state[target]; ok {
		return s
	}
	return CircuitClosed
}
