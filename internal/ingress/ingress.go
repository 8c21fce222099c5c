// Package ingress implements the per-session read loop: decode a frame,
// classify it by priority, publish onto the matching priority channel.
// The channels are not unbounded: each dispatch pool buffers 4096 items,
// and once a pool's buffer is full, Submit blocks the publishing read loop
// until a worker takes an item. Concurrent handler calls are bounded by the
// dispatch semaphores.
package ingress

import (
	"errors"
	"io"
	"log/slog"

	"github.com/deb2000-sudo/connrelay/pkg/codec"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// Item is one (session, message) tuple published onto a priority channel.
type Item struct {
	Session *models.Session
	Message *models.Message
}

// Sink receives classified items. internal/dispatch.Pool[Item] satisfies
// this via its Submit method.
type Sink interface {
	Submit(item Item)
}

// Pipeline owns the three priority sinks and the per-session frame reader.
type Pipeline struct {
	High   Sink
	Medium Sink
	Low    Sink
	Codec  *codec.Codec
	Logger *slog.Logger
}

// sinkFor routes a message to its priority's sink.
func (p *Pipeline) sinkFor(priority models.Priority) Sink {
	switch priority {
	case models.PriorityHigh:
		return p.High
	case models.PriorityMedium:
		return p.Medium
	default:
		return p.Low
	}
}

// ReadLoop reads frames from r until a decode error or EOF, publishing each
// decoded message onto its priority channel and tearing the session down
// on any terminal condition.
//
// onTerminate is invoked exactly once when the loop exits, regardless of
// reason, so the caller (a transport listener) can deregister the session.
func (p *Pipeline) ReadLoop(session *models.Session, r io.Reader, onTerminate func(err error)) {
	for {
		msg, frameLen, err := p.Codec.Decode(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.Logger.Debug("session closed by peer", "session", session.ID)
			} else {
				p.Logger.Warn("frame decode error, terminating session", "session", session.ID, "error", err)
			}
			onTerminate(err)
			return
		}

		session.TouchActivity()
		session.RecvCount.Add(1)
		session.BytesIn.Add(int64(frameLen))

		if msg.Kind == models.InfoFileChunkClientToServer || msg.Kind == models.InfoClientToClientFile {
			session.FileBytesIn.Add(int64(len(msg.Bytes)))
		}

		if err := msg.Validate(); err != nil {
			p.Logger.Warn("invalid message, dropping", "session", session.ID, "error", err)
			continue
		}

		p.sinkFor(msg.Priority).Submit(Item{Session: session, Message: msg})
	}
}
