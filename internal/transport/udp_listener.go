package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/deb2000-sudo/connrelay/internal/ingress"
	"github.com/deb2000-sudo/connrelay/internal/registry"
	"github.com/deb2000-sudo/connrelay/pkg/codec"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// udpSender adapts a shared *net.UDPConn plus a fixed remote address to
// models.Sender, generalizing udp_sender.go's one-shot conn.Write into a
// per-peer addressed write on the listener's socket.
type udpSender struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (s udpSender) SendFrame(data []byte) error {
	_, err := s.conn.WriteToUDP(data, s.addr)
	return err
}

func (s udpSender) Close() error { return nil } // the shared socket outlives any one peer

// UDPListener runs a single receive loop over one UDP socket. Sessions are
// keyed by remote address and treated as long-lived, exactly like TCP
// sessions, so a UDP peer participates in the Registry/Heartbeat
// Monitor/PendingQueue the same way.
type UDPListener struct {
	Addr     string
	Registry *registry.Registry
	Ingress  *ingress.Pipeline
	Codec    *codec.Codec
	Logger   *slog.Logger

	conn *net.UDPConn

	mu       sync.Mutex
	sessions map[string]*models.Session
}

// NewUDPListener constructs a UDPListener bound to addr (not yet listening).
func NewUDPListener(addr string, reg *registry.Registry, ing *ingress.Pipeline, c *codec.Codec, logger *slog.Logger) *UDPListener {
	return &UDPListener{Addr: addr, Registry: reg, Ingress: ing, Codec: c, Logger: logger, sessions: make(map[string]*models.Session)}
}

// Start resolves Addr, binds the UDP socket, and begins the receive loop in
// a background goroutine.
func (l *UDPListener) Start(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", l.Addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	l.conn = conn

	go l.receiveLoop(ctx)
	return nil
}

func (l *UDPListener) receiveLoop(ctx context.Context) {
	buf := make([]byte, 64*1024+256)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				l.Logger.Debug("udp listener stopped", "addr", l.Addr)
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			l.Logger.Warn("udp read error", "addr", l.Addr, "error", err)
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		msg, _, err := l.Codec.Decode(bytes.NewReader(datagram))
		if err != nil {
			l.Logger.Warn("udp frame decode error", "from", from, "error", err)
			continue
		}

		session := l.sessionFor(from)
		session.TouchActivity()
		session.RecvCount.Add(1)
		session.BytesIn.Add(int64(n))

		if err := msg.Validate(); err != nil {
			l.Logger.Warn("invalid udp message, dropping", "from", from, "error", err)
			continue
		}

		switch msg.Priority {
		case models.PriorityHigh:
			l.Ingress.High.Submit(ingress.Item{Session: session, Message: msg})
		case models.PriorityMedium:
			l.Ingress.Medium.Submit(ingress.Item{Session: session, Message: msg})
		default:
			l.Ingress.Low.Submit(ingress.Item{Session: session, Message: msg})
		}
	}
}

// sessionFor returns the long-lived Session for a UDP remote address,
// registering a new one on first contact or once the previous one has been
// removed from the Registry (e.g. reaped by the Heartbeat Monitor).
func (l *UDPListener) sessionFor(from *net.UDPAddr) *models.Session {
	key := from.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.sessions[key]; ok && s.Connected() {
		return s
	}

	s := l.Registry.Create(models.TransportUDP, key, udpSender{conn: l.conn, addr: from})
	l.sessions[key] = s
	l.Logger.Info("udp session registered", "session", s.ID, "remote", key)
	return s
}

// Stop closes the shared UDP socket, causing the receive loop to exit.
func (l *UDPListener) Stop() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}
