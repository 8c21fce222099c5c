package egress

import "testing"

func TestAckTrackerAckedIsOneShot(t *testing.T) {
	tr := NewAckTracker()
	if tr.Acked(1, 5) {
		t.Fatalf("expected unacked seq to report false")
	}
	tr.Ack(1, 5)
	if !tr.Acked(1, 5) {
		t.Fatalf("expected acked seq to report true")
	}
	if tr.Acked(1, 5) {
		t.Fatalf("expected Acked to forget the record after reporting true once")
	}
}

func TestAckTrackerKeysAreScopedByTarget(t *testing.T) {
	tr := NewAckTracker()
	tr.Ack(1, 5)
	if tr.Acked(2, 5) {
		t.Fatalf("expected ack for target 1 not to apply to target 2")
	}
}
