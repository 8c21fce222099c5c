package egress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/deb2000-sudo/connrelay/internal/dispatch"
	"github.com/deb2000-sudo/connrelay/pkg/codec"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

type fakeSender struct {
	mu      sync.Mutex
	frames  [][]byte
	failN   int // fail the first failN calls, then succeed
	calls   int
}

func (f *fakeSender) SendFrame(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return errors.New("fakeSender: simulated write failure")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeSender) Close() error { return nil }

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPipelineDeliversToResolvedSession(t *testing.T) {
	sender := &fakeSender{}
	session := models.NewSession(7, models.TransportTCP, "test", sender)
	resolve := func(id uint32) (*models.Session, bool) {
		if id == 7 {
			return session, true
		}
		return nil, false
	}

	pending := NewPendingQueue(10)
	p := NewPipeline(models.PriorityHigh, RetryPolicy{MaxRetries: 3, Interval: 10 * time.Millisecond}, codec.New(codec.DefaultConfig()), resolve, pending, nil, dispatch.Bounds{Min: 1, Max: 2}, 4, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.Submit(models.NewEnvelope(models.Message{TargetID: 7, Kind: models.InfoNormalClientToServer, Priority: models.PriorityHigh}))

	deadline := time.After(2 * time.Second)
	for sender.callCount() < 1 {
		select {
		case <-deadline:
			t.Fatalf("expected envelope to be delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if session.SendCount.Load() != 1 {
		t.Fatalf("expected send count 1, got %d", session.SendCount.Load())
	}
	if session.BytesOut.Load() == 0 {
		t.Fatalf("expected bytes out to be tracked")
	}
}

func TestPipelineParksWhenTargetOffline(t *testing.T) {
	resolve := func(id uint32) (*models.Session, bool) { return nil, false }
	pending := NewPendingQueue(10)
	p := NewPipeline(models.PriorityLow, RetryPolicy{MaxRetries: 1, Interval: 5 * time.Millisecond}, codec.New(codec.DefaultConfig()), resolve, pending, nil, dispatch.Bounds{Min: 1, Max: 2}, 4, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.Submit(models.NewEnvelope(models.Message{TargetID: 99, Kind: models.InfoNormalClientToServer, Priority: models.PriorityLow}))

	deadline := time.After(2 * time.Second)
	for pending.Len(99) == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected envelope to be parked after exhausting retries")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPipelineDoesNotRetryTerminalKinds(t *testing.T) {
	resolve := func(id uint32) (*models.Session, bool) { return nil, false }
	pending := NewPendingQueue(10)
	p := NewPipeline(models.PriorityHigh, RetryPolicy{MaxRetries: 5, Interval: 5 * time.Millisecond}, codec.New(codec.DefaultConfig()), resolve, pending, nil, dispatch.Bounds{Min: 1, Max: 2}, 4, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.Submit(models.NewEnvelope(models.Message{TargetID: 42, Kind: models.InfoAck, Priority: models.PriorityHigh}))

	time.Sleep(100 * time.Millisecond)
	if pending.Len(42) != 0 {
		t.Fatalf("expected terminal-kind envelope not to be parked, got %d", pending.Len(42))
	}
}

func TestPipelineRetriesThenSucceeds(t *testing.T) {
	sender := &fakeSender{failN: 2}
	session := models.NewSession(3, models.TransportTCP, "test", sender)
	resolve := func(id uint32) (*models.Session, bool) { return session, true }

	pending := NewPendingQueue(10)
	p := NewPipeline(models.PriorityMedium, RetryPolicy{MaxRetries: 5, Interval: 5 * time.Millisecond}, codec.New(codec.DefaultConfig()), resolve, pending, nil, dispatch.Bounds{Min: 1, Max: 2}, 4, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.Submit(models.NewEnvelope(models.Message{TargetID: 3, Kind: models.InfoNormalClientToServer, Priority: models.PriorityMedium}))

	deadline := time.After(2 * time.Second)
	for session.SendCount.Load() != 1 {
		select {
		case <-deadline:
			t.Fatalf("expected eventual delivery after retries, calls=%d", sender.callCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if sender.callCount() != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", sender.callCount())
	}
}

func TestDrainPendingResubmitsParkedEnvelopes(t *testing.T) {
	sender := &fakeSender{}
	session := models.NewSession(5, models.TransportTCP, "test", sender)
	online := false
	resolve := func(id uint32) (*models.Session, bool) {
		if online {
			return session, true
		}
		return nil, false
	}

	pending := NewPendingQueue(10)
	p := NewPipeline(models.PriorityLow, RetryPolicy{MaxRetries: 1, Interval: 5 * time.Millisecond}, codec.New(codec.DefaultConfig()), resolve, pending, nil, dispatch.Bounds{Min: 1, Max: 2}, 4, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.Submit(models.NewEnvelope(models.Message{TargetID: 5, Kind: models.InfoNormalClientToServer, Priority: models.PriorityLow}))

	deadline := time.After(2 * time.Second)
	for pending.Len(5) == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected envelope parked while offline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	online = true
	p.DrainPending(5)

	deadline = time.After(2 * time.Second)
	for sender.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected parked envelope to be delivered after drain")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
