// Package transport implements the five listeners: TCP, TLS, UDP and
// HTTP/HTTPS, each under a uniform Start(ctx)/Stop contract.
//
// Generalizes tcp_sender.go/tcp_receiver.go's framing loop
// (metadata-length-prefixed chunk frames over net.Conn) to the shared
// pkg/codec frame format, and its accept-loop-with-backoff shape to the TCP
// and TLS listeners.
package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/deb2000-sudo/connrelay/internal/ingress"
	"github.com/deb2000-sudo/connrelay/internal/registry"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// acceptBackoff is how long the accept loop waits after a non-fatal Accept
// error before retrying.
const acceptBackoff = 100 * time.Millisecond

// connSender adapts a net.Conn to models.Sender. SendFrame can be called
// concurrently by several egress workers for the same session; it takes no
// lock of its own and relies on net.Conn being safe for concurrent Write
// calls.
type connSender struct {
	conn net.Conn
}

func (c connSender) SendFrame(data []byte) error {
	written := 0
	for written < len(data) {
		n, err := c.conn.Write(data[written:])
		if n == 0 && err == nil {
			return io.ErrClosedPipe
		}
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func (c connSender) Close() error { return c.conn.Close() }

// TCPListener accepts plain TCP connections, registers a Session per
// connection, and feeds decoded frames into the Ingress pipeline.
type TCPListener struct {
	Addr     string
	Registry *registry.Registry
	Ingress  *ingress.Pipeline
	Logger   *slog.Logger

	transport models.Transport
	listener  net.Listener
	done      chan struct{}
}

// NewTCPListener constructs a TCPListener bound to addr (not yet listening).
func NewTCPListener(addr string, reg *registry.Registry, ing *ingress.Pipeline, logger *slog.Logger) *TCPListener {
	return &TCPListener{Addr: addr, Registry: reg, Ingress: ing, Logger: logger, transport: models.TransportTCP, done: make(chan struct{})}
}

// Start binds the listener and begins the accept loop in a background
// goroutine. It returns once the bind succeeds (or fails).
func (l *TCPListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.Addr)
	if err != nil {
		return err
	}
	l.listener = ln

	go l.acceptLoop(ctx)
	return nil
}

func (l *TCPListener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				l.Logger.Debug("tcp listener stopped", "addr", l.Addr)
				return
			}
			l.Logger.Warn("tcp accept error", "addr", l.Addr, "error", err)
			select {
			case <-time.After(acceptBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}
		go l.handleConn(conn)
	}
}

func (l *TCPListener) handleConn(conn net.Conn) {
	session := l.Registry.Create(l.transport, conn.RemoteAddr().String(), connSender{conn: conn})
	l.Logger.Info("session accepted", "transport", l.transport, "session", session.ID, "remote", session.RemoteAddr)

	l.Ingress.ReadLoop(session, conn, func(err error) {
		conn.Close()
		l.Registry.Remove(session.ID)
		l.Logger.Info("session closed", "session", session.ID, "cause", err)
	})
}

// Stop closes the listener, causing the accept loop to exit.
func (l *TCPListener) Stop() error {
	if l.listener == nil {
		return nil
	}
	return l.listener.Close()
}
