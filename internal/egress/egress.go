// Package egress implements the outgoing pipeline: three priority channels,
// each drained by a dynamically-sized worker pool (reusing
// internal/dispatch.Pool), serializing and sending envelopes with
// per-priority retry/backoff and offline-parking into a PendingQueue.
//
// Generalizes internal/transport.RetryManager — which implemented
// exponential backoff with jitter and a circuit breaker — into a simpler
// fixed-interval-per-priority table. The circuit breaker concept doesn't
// survive: the retry policy here is a flat MaxRetries/Interval pair per
// priority, not an adaptive one, so carrying it forward would contradict
// the testable property that send attempts never exceed MaxRetries + 1.
package egress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/deb2000-sudo/connrelay/internal/dispatch"
	"github.com/deb2000-sudo/connrelay/pkg/codec"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// ErrTargetOffline is returned when the target session is not in the
// registry at send time.
var ErrTargetOffline = errors.New("egress: target session offline")

// RetryPolicy is the per-priority retry table entry.
type RetryPolicy struct {
	MaxRetries int
	Interval   time.Duration
}

// SessionResolver looks up a session by id, matching
// (*registry.Registry).Get's signature without importing registry (keeps
// this package's dependency graph a leaf).
type SessionResolver func(id uint32) (*models.Session, bool)

// Pipeline is one priority class's send path: a dispatch pool, codec,
// resolver, pending queue and rate limiter. The pool gives egress the same
// dynamic min/max worker sizing ingress gets from internal/dispatch, instead
// of the single fixed drain goroutine a naive Run loop would be.
type Pipeline struct {
	Priority models.Priority
	Policy   RetryPolicy
	Codec    *codec.Codec
	Resolve  SessionResolver
	Pending  *PendingQueue
	Limiter  *rate.Limiter // nil means unlimited
	Acks     *AckTracker   // nil disables ack-correlation short-circuiting
	Logger   *slog.Logger

	pool *dispatch.Pool[*models.OutgoingEnvelope]
}

// NewPipeline constructs a Pipeline backed by a dispatch.Pool sized by
// bounds/permits, matching the ingress side's construction shape. limiter
// may be nil for unlimited throughput.
func NewPipeline(priority models.Priority, policy RetryPolicy, c *codec.Codec, resolve SessionResolver, pending *PendingQueue, limiter *rate.Limiter, bounds dispatch.Bounds, permits int, timeout time.Duration, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		Priority: priority,
		Policy:   policy,
		Codec:    c,
		Resolve:  resolve,
		Pending:  pending,
		Limiter:  limiter,
		Logger:   logger,
	}
	p.pool = dispatch.New(priority.String()+"-egress", bounds, permits, timeout, func(ctx context.Context, env *models.OutgoingEnvelope) error {
		p.attempt(ctx, env)
		return nil
	}, logger)
	return p
}

// Submit hands an envelope to the pool, so retryOrPark's re-submission and
// the initial send share one path.
func (p *Pipeline) Submit(env *models.OutgoingEnvelope) {
	p.pool.Submit(env)
}

// Start launches the pool's initial workers and resize monitor.
func (p *Pipeline) Start(ctx context.Context) {
	p.pool.Start(ctx)
}

// Stop cancels every worker and waits for them to exit.
func (p *Pipeline) Stop() {
	p.pool.Stop()
}

func (p *Pipeline) attempt(ctx context.Context, env *models.OutgoingEnvelope) {
	session, ok := p.Resolve(env.Message.TargetID)
	if !ok {
		p.retryOrPark(ctx, env, ErrTargetOffline)
		return
	}

	data, err := p.Codec.Encode(0x01, &env.Message)
	if err != nil {
		// A serialization error is deterministic: retrying won't fix it.
		p.Logger.Warn("egress: drop envelope, serialization error", "target", env.Message.TargetID, "error", err)
		return
	}

	if p.Limiter != nil {
		if err := p.Limiter.WaitN(ctx, len(data)); err != nil {
			// Cancellation during the limiter wait is treated like any
			// other cancelled send: park, don't count as a failed attempt.
			p.park(env)
			return
		}
	}

	if err := session.Sender.SendFrame(data); err != nil {
		p.retryOrPark(ctx, env, err)
		return
	}

	session.BytesOut.Add(int64(len(data)))
	session.SendCount.Add(1)
	env.LastSendTime = time.Now()
	if env.Message.Kind == models.InfoFileChunkClientToServer || env.Message.Kind == models.InfoClientToClientFile {
		session.FileBytesOut.Add(int64(len(data)))
	}
}

// retryOrPark sleeps the priority's interval, then re-enqueues with
// retry_count+=1; once retry_count >= MaxRetries, it parks in the
// PendingQueue instead.
func (p *Pipeline) retryOrPark(ctx context.Context, env *models.OutgoingEnvelope, cause error) {
	if env.Message.IsTerminal() {
		// Terminal kinds (e.g. file-complete) are never retried.
		return
	}
	if p.Acks != nil && p.Acks.Acked(env.Message.TargetID, env.Message.SeqNum) {
		// The peer's ack crossed with this failed write attempt; treat the
		// send as already complete instead of retrying it.
		return
	}

	env.RetryCount++
	if env.RetryCount >= p.Policy.MaxRetries {
		p.park(env)
		return
	}

	p.Logger.Debug("egress: scheduling retry", "target", env.Message.TargetID, "attempt", env.RetryCount, "cause", cause)

	go func() {
		select {
		case <-time.After(p.Policy.Interval):
			if p.Acks != nil && p.Acks.Acked(env.Message.TargetID, env.Message.SeqNum) {
				return
			}
			select {
			case <-ctx.Done():
				// Cancellation during the sleep: park instead of losing the
				// envelope.
				p.park(env)
			default:
				p.Submit(env)
			}
		case <-ctx.Done():
			p.park(env)
		}
	}()
}

func (p *Pipeline) park(env *models.OutgoingEnvelope) {
	p.Pending.Push(env.Message.TargetID, env)
}

// DrainPending re-submits every envelope parked for target, resetting each
// envelope's retry count so it gets a fresh attempt budget against the
// now-online peer.
func (p *Pipeline) DrainPending(target uint32) {
	for _, env := range p.Pending.Drain(target) {
		env.RetryCount = -1
		p.Submit(env)
	}
}
