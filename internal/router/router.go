// Package router implements the message router sitting behind the
// per-priority dispatch pools (internal/dispatch): each pool hands decoded
// items here, and Route branches on the message's InfoType to the matching
// handler.
//
// Grounded on internal/relay.Forwarder for the peer-to-peer relaying shape
// (look up a destination, forward or queue) and on
// internal/orchestrator/service.go for the general branch-on-request-kind
// dispatch pattern, generalized here to branch on InfoType instead of HTTP
// path.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deb2000-sudo/connrelay/internal/egress"
	"github.com/deb2000-sudo/connrelay/internal/ingress"
	"github.com/deb2000-sudo/connrelay/internal/registry"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// FileEngine receives file-chunk messages; implemented by
// internal/filetransfer.Engine. Declared here as a narrow interface so this
// package does not import the file transfer engine's full dependency graph.
type FileEngine interface {
	HandleChunk(ctx context.Context, session *models.Session, msg *models.Message) error
}

// Egress is the subset of egress.Pipeline the router needs to enqueue
// outbound envelopes, narrowed to a single method so tests can fake it.
type Egress interface {
	Submit(env *models.OutgoingEnvelope)
}

// Router dispatches one decoded message per call.
type Router struct {
	Registry *registry.Registry
	High     Egress
	Medium   Egress
	Low      Egress
	Pending  *egress.PendingQueue
	Acks     *egress.AckTracker
	Files    FileEngine
	Logger   *slog.Logger
}

// egressFor returns the outgoing sink matching a message's priority.
func (r *Router) egressFor(priority models.Priority) Egress {
	switch priority {
	case models.PriorityHigh:
		return r.High
	case models.PriorityMedium:
		return r.Medium
	default:
		return r.Low
	}
}

// Route is the dispatch.Handler[ingress.Item] invoked by each priority pool.
func (r *Router) Route(ctx context.Context, item ingress.Item) error {
	msg := item.Message
	switch msg.Kind {
	case models.InfoHeartbeat:
		return r.handleHeartbeat(item.Session, msg)
	case models.InfoNormalClientToServer:
		return r.handleNormal(msg)
	case models.InfoClientToClientNormal, models.InfoClientToClientFile:
		return r.handlePeerRelay(msg)
	case models.InfoFileChunkClientToServer:
		if r.Files == nil {
			return fmt.Errorf("router: no file engine configured")
		}
		return r.Files.HandleChunk(ctx, item.Session, msg)
	case models.InfoAck:
		return r.handleAck(msg)
	case models.InfoNack:
		r.Logger.Warn("router: received nack", "source", msg.SourceID, "seq", msg.SeqNum)
		return nil
	default:
		return fmt.Errorf("router: unhandled message kind %s", msg.Kind)
	}
}

// handleHeartbeat updates the session's liveness and fires an ack,
// fire-and-forget.
func (r *Router) handleHeartbeat(session *models.Session, msg *models.Message) error {
	session.TouchHeartbeat()
	ack := models.NewEnvelope(models.Message{
		Kind:     models.InfoAck,
		Priority: models.PriorityHigh,
		SeqNum:   msg.SeqNum,
		SourceID: msg.TargetID,
		TargetID: msg.SourceID,
	})
	r.High.Submit(ack)
	return nil
}

// handleNormal acknowledges a NormalClientToServer message. The payload
// itself has no further processing in the core; an ack is emitted
// fire-and-forget.
func (r *Router) handleNormal(msg *models.Message) error {
	ack := models.NewEnvelope(models.Message{
		Kind:     models.InfoAck,
		Priority: msg.Priority,
		SeqNum:   msg.SeqNum,
		SourceID: msg.TargetID,
		TargetID: msg.SourceID,
	})
	r.egressFor(msg.Priority).Submit(ack)
	return nil
}

// handlePeerRelay forwards a client-to-client message toward its target if
// the target is online, otherwise parks it in the PendingQueue for delivery
// on reconnect.
func (r *Router) handlePeerRelay(msg *models.Message) error {
	env := models.NewEnvelope(*msg)
	if _, online := r.Registry.Get(msg.TargetID); !online {
		r.Pending.Push(msg.TargetID, env)
		return nil
	}
	r.egressFor(msg.Priority).Submit(env)
	return nil
}

// handleAck records the ack against the outstanding-envelope tracker so an
// in-flight retry short-circuits instead of resending.
func (r *Router) handleAck(msg *models.Message) error {
	if r.Acks != nil {
		r.Acks.Ack(msg.SourceID, msg.SeqNum)
	}
	return nil
}
