package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/deb2000-sudo/connrelay/internal/ingress"
	"github.com/deb2000-sudo/connrelay/internal/registry"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// handshakeTimeout bounds the explicit handshake performed before a TLS
// session is registered, so a stalled client can't hold its connection
// goroutine and socket open indefinitely.
const handshakeTimeout = 10 * time.Second

// TLSConfig names the certificate material for a TLSListener.
type TLSConfig struct {
	CertPath           string
	KeyPath            string
	CertPassword       string // reserved: encrypted key files are not yet supported
	TrustedClientCerts string // optional CA bundle for client-cert verification
}

// TLSListener accepts TLS connections, verifying client certificates when
// TrustedClientCerts is configured.
type TLSListener struct {
	Addr     string
	TLS      TLSConfig
	Registry *registry.Registry
	Ingress  *ingress.Pipeline
	Logger   *slog.Logger

	listener net.Listener
}

// NewTLSListener constructs a TLSListener bound to addr (not yet listening).
func NewTLSListener(addr string, cfg TLSConfig, reg *registry.Registry, ing *ingress.Pipeline, logger *slog.Logger) *TLSListener {
	return &TLSListener{Addr: addr, TLS: cfg, Registry: reg, Ingress: ing, Logger: logger}
}

func (l *TLSListener) buildTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(l.TLS.CertPath, l.TLS.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("tls: load server certificate: %w", err)
	}

	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	if l.TLS.TrustedClientCerts != "" {
		pemBytes, err := os.ReadFile(l.TLS.TrustedClientCerts)
		if err != nil {
			return nil, fmt.Errorf("tls: read trusted client cert bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("tls: no certificates parsed from trusted client cert bundle")
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// Start builds the TLS config, binds the listener, and begins the accept
// loop in a background goroutine.
func (l *TLSListener) Start(ctx context.Context) error {
	tlsCfg, err := l.buildTLSConfig()
	if err != nil {
		return err
	}

	ln, err := tls.Listen("tcp", l.Addr, tlsCfg)
	if err != nil {
		return err
	}
	l.listener = ln

	go l.acceptLoop(ctx)
	return nil
}

func (l *TLSListener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				l.Logger.Debug("tls listener stopped", "addr", l.Addr)
				return
			}
			l.Logger.Warn("tls accept error", "addr", l.Addr, "error", err)
			select {
			case <-time.After(acceptBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}
		go l.handleConn(ctx, conn)
	}
}

// handleConn performs the TLS handshake explicitly before touching the
// Registry: tls.Conn otherwise defers the handshake to the first Read,
// which happens inside Ingress.ReadLoop, so a rejected client certificate
// would register and immediately tear down a session instead of never
// creating one.
func (l *TLSListener) handleConn(ctx context.Context, conn net.Conn) {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()
		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			l.Logger.Warn("tls handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			return
		}
	}

	session := l.Registry.Create(models.TransportTLS, conn.RemoteAddr().String(), connSender{conn: conn})
	l.Logger.Info("session accepted", "transport", models.TransportTLS, "session", session.ID, "remote", session.RemoteAddr)

	l.Ingress.ReadLoop(session, conn, func(err error) {
		conn.Close()
		l.Registry.Remove(session.ID)
		l.Logger.Info("session closed", "session", session.ID, "cause", err)
	})
}

// Stop closes the listener, causing the accept loop to exit.
func (l *TLSListener) Stop() error {
	if l.listener == nil {
		return nil
	}
	return l.listener.Close()
}
