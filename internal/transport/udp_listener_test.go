package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/deb2000-sudo/connrelay/internal/ingress"
	"github.com/deb2000-sudo/connrelay/internal/registry"
	"github.com/deb2000-sudo/connrelay/pkg/codec"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

func TestUDPListenerRegistersLongLivedSessionByAddress(t *testing.T) {
	reg := registry.New()
	low := newCaptureSink()
	c := codec.New(codec.DefaultConfig())
	pipeline := &ingress.Pipeline{High: newCaptureSink(), Medium: newCaptureSink(), Low: low, Codec: c, Logger: testLogger()}

	listener := NewUDPListener("127.0.0.1:0", reg, pipeline, c, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := listener.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer listener.Stop()

	addr := listener.conn.LocalAddr().(*net.UDPAddr)
	clientConn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	defer clientConn.Close()

	data, err := c.Encode(0x01, &models.Message{Kind: models.InfoNormalClientToServer, Priority: models.PriorityLow, Text: "ping"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Send the same frame twice; both should map to one session.
	for i := 0; i < 2; i++ {
		if _, err := clientConn.Write(data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	var received int
	deadline := time.After(2 * time.Second)
	for received < 2 {
		select {
		case item := <-low.items:
			if item.Message.Text != "ping" {
				t.Fatalf("unexpected message text %q", item.Message.Text)
			}
			received++
		case <-deadline:
			t.Fatalf("expected 2 messages classified onto low, got %d", received)
		}
	}

	if reg.Len() != 1 {
		t.Fatalf("expected a single long-lived session for repeated datagrams from the same address, got %d", reg.Len())
	}
}
