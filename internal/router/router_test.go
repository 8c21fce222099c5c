package router

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/deb2000-sudo/connrelay/internal/egress"
	"github.com/deb2000-sudo/connrelay/internal/ingress"
	"github.com/deb2000-sudo/connrelay/internal/registry"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

type recordingEgress struct {
	envelopes []*models.OutgoingEnvelope
}

func (r *recordingEgress) Submit(env *models.OutgoingEnvelope) {
	r.envelopes = append(r.envelopes, env)
}

type stubSender struct{}

func (stubSender) SendFrame(data []byte) error { return nil }
func (stubSender) Close() error                { return nil }

type stubFileEngine struct {
	calls int
}

func (s *stubFileEngine) HandleChunk(ctx context.Context, session *models.Session, msg *models.Message) error {
	s.calls++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter() (*Router, *recordingEgress, *recordingEgress, *recordingEgress, *registry.Registry) {
	reg := registry.New()
	high, medium, low := &recordingEgress{}, &recordingEgress{}, &recordingEgress{}
	r := &Router{
		Registry: reg,
		High:     high,
		Medium:   medium,
		Low:      low,
		Pending:  egress.NewPendingQueue(10),
		Acks:     egress.NewAckTracker(),
		Files:    &stubFileEngine{},
		Logger:   testLogger(),
	}
	return r, high, medium, low, reg
}

func TestRouteHeartbeatSendsAckAndTouches(t *testing.T) {
	r, high, _, _, reg := newTestRouter()
	session := reg.Create(models.TransportTCP, "peer", stubSender{})

	err := r.Route(context.Background(), ingress.Item{
		Session: session,
		Message: &models.Message{Kind: models.InfoHeartbeat, Priority: models.PriorityHigh, SeqNum: 7, SourceID: session.ID},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(high.envelopes) != 1 {
		t.Fatalf("expected one ack on the high channel, got %d", len(high.envelopes))
	}
	if high.envelopes[0].Message.Kind != models.InfoAck || high.envelopes[0].Message.SeqNum != 7 {
		t.Fatalf("expected ack correlated to seq 7, got %+v", high.envelopes[0].Message)
	}
}

func TestRoutePeerRelayDeliversWhenOnline(t *testing.T) {
	r, _, _, low, reg := newTestRouter()
	target := reg.Create(models.TransportTCP, "peer2", stubSender{})

	err := r.Route(context.Background(), ingress.Item{
		Session: nil,
		Message: &models.Message{Kind: models.InfoClientToClientNormal, Priority: models.PriorityLow, TargetID: target.ID},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(low.envelopes) != 1 {
		t.Fatalf("expected the relayed message enqueued on low egress, got %d", len(low.envelopes))
	}
}

func TestRoutePeerRelayParksWhenOffline(t *testing.T) {
	r, _, _, low, _ := newTestRouter()

	err := r.Route(context.Background(), ingress.Item{
		Message: &models.Message{Kind: models.InfoClientToClientFile, Priority: models.PriorityLow, TargetID: 999},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(low.envelopes) != 0 {
		t.Fatalf("expected no egress submission for an offline target")
	}
	if r.Pending.Len(999) != 1 {
		t.Fatalf("expected message parked for offline target, got %d", r.Pending.Len(999))
	}
}

func TestRouteFileChunkDelegatesToFileEngine(t *testing.T) {
	r, _, _, _, _ := newTestRouter()
	engine := r.Files.(*stubFileEngine)

	err := r.Route(context.Background(), ingress.Item{
		Message: &models.Message{Kind: models.InfoFileChunkClientToServer},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.calls != 1 {
		t.Fatalf("expected file engine to be invoked once, got %d", engine.calls)
	}
}

func TestRouteAckRecordsInTracker(t *testing.T) {
	r, _, _, _, _ := newTestRouter()

	err := r.Route(context.Background(), ingress.Item{
		Message: &models.Message{Kind: models.InfoAck, SourceID: 42, SeqNum: 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Acks.Acked(42, 3) {
		t.Fatalf("expected ack to be recorded in the tracker")
	}
}
