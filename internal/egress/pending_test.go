package egress

import (
	"testing"

	"github.com/deb2000-sudo/connrelay/pkg/models"
)

func envelope(text string) *models.OutgoingEnvelope {
	return models.NewEnvelope(models.Message{Text: text})
}

func TestPendingQueueFIFOOrder(t *testing.T) {
	q := NewPendingQueue(10)
	q.Push(1, envelope("a"))
	q.Push(1, envelope("b"))
	q.Push(1, envelope("c"))

	got := q.Drain(1)
	if len(got) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Message.Text != want {
			t.Errorf("index %d: expected %q, got %q", i, want, got[i].Message.Text)
		}
	}
}

func TestPendingQueueEvictsOldestAtCap(t *testing.T) {
	q := NewPendingQueue(2)
	q.Push(1, envelope("a"))
	q.Push(1, envelope("b"))
	q.Push(1, envelope("c"))

	got := q.Drain(1)
	if len(got) != 2 {
		t.Fatalf("expected 2 envelopes after eviction, got %d", len(got))
	}
	if got[0].Message.Text != "b" || got[1].Message.Text != "c" {
		t.Fatalf("expected oldest entry evicted, got %q, %q", got[0].Message.Text, got[1].Message.Text)
	}
}

func TestPendingQueueDrainClearsQueue(t *testing.T) {
	q := NewPendingQueue(10)
	q.Push(1, envelope("a"))
	_ = q.Drain(1)

	if q.Len(1) != 0 {
		t.Fatalf("expected queue to be empty after drain, got %d", q.Len(1))
	}
	if got := q.Drain(1); len(got) != 0 {
		t.Fatalf("expected second drain to be empty, got %d", len(got))
	}
}

func TestPendingQueueTracksPerTarget(t *testing.T) {
	q := NewPendingQueue(10)
	q.Push(1, envelope("a"))
	q.Push(2, envelope("b"))

	if q.Len(1) != 1 || q.Len(2) != 1 {
		t.Fatalf("expected independent per-target queues, got len(1)=%d len(2)=%d", q.Len(1), q.Len(2))
	}
}

func TestPendingQueueUnboundedWhenCapNonPositive(t *testing.T) {
	q := NewPendingQueue(0)
	for i := 0; i < 5; i++ {
		q.Push(1, envelope("x"))
	}
	if q.Len(1) != 5 {
		t.Fatalf("expected unbounded growth with non-positive cap, got %d", q.Len(1))
	}
}
