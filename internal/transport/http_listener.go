package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/deb2000-sudo/connrelay/internal/ingress"
	"github.com/deb2000-sudo/connrelay/internal/registry"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// httpSender is the Sender of a one-shot HTTP session: SendFrame writes the
// frame straight to the request's ResponseWriter, with no buffering.
// handleMessage does not wait for egress; it replies 202 and removes the
// session from the Registry as soon as the message is submitted.
// Generalizes internal/orchestrator's writeJSON helper from a
// fire-and-forget response writer into a models.Sender.
type httpSender struct {
	w http.ResponseWriter
}

func (s httpSender) SendFrame(data []byte) error {
	_, err := s.w.Write(data)
	return err
}

func (s httpSender) Close() error { return nil }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HTTPListener registers explicit routes for posting one-shot messages and
// reading a registry snapshot, generalizing internal/orchestrator/service.go's
// ServeMux + writeJSON pattern from transfer-session CRUD to message ingest.
type HTTPListener struct {
	Addr      string
	Prefixes  []string
	TLSConfig *tls.Config // non-nil selects HTTPS
	Registry  *registry.Registry
	Ingress   *ingress.Pipeline
	Logger    *slog.Logger

	server *http.Server
}

// NewHTTPListener constructs an HTTPListener. tlsConfig may be nil for
// plain HTTP.
func NewHTTPListener(addr string, prefixes []string, tlsConfig *tls.Config, reg *registry.Registry, ing *ingress.Pipeline, logger *slog.Logger) *HTTPListener {
	return &HTTPListener{Addr: addr, Prefixes: prefixes, TLSConfig: tlsConfig, Registry: reg, Ingress: ing, Logger: logger}
}

func (l *HTTPListener) prefix() string {
	if len(l.Prefixes) == 0 {
		return ""
	}
	return l.Prefixes[0]
}

func (l *HTTPListener) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(l.prefix()+"/message", l.handleMessage)
	mux.HandleFunc(l.prefix()+"/sessions", l.handleSessions)
	return mux
}

// handleMessage accepts one JSON-encoded models.Message per POST, registers
// a one-shot HTTP session bound to the response writer, and feeds the
// message through Ingress exactly like a framed TCP/UDP read would.
func (l *HTTPListener) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var msg models.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := msg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	transport := models.TransportHTTP
	if l.TLSConfig != nil {
		transport = models.TransportHTTPS
	}
	session := l.Registry.Create(transport, r.RemoteAddr, httpSender{w: w})
	session.TouchActivity()
	session.RecvCount.Add(1)
	session.BytesIn.Add(int64(len(body)))
	defer l.Registry.Remove(session.ID)

	switch msg.Priority {
	case models.PriorityHigh:
		l.Ingress.High.Submit(ingress.Item{Session: session, Message: &msg})
	case models.PriorityMedium:
		l.Ingress.Medium.Submit(ingress.Item{Session: session, Message: &msg})
	default:
		l.Ingress.Low.Submit(ingress.Item{Session: session, Message: &msg})
	}

	writeJSON(w, http.StatusAccepted, map[string]uint32{"session_id": session.ID})
}

// handleSessions returns a point-in-time snapshot of every live session.
func (l *HTTPListener) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	live := l.Registry.SnapshotLive()
	snapshots := make([]models.SessionSnapshot, 0, len(live))
	for _, s := range live {
		snapshots = append(snapshots, s.Snapshot())
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// Start binds the HTTP(S) server and begins serving in a background
// goroutine.
func (l *HTTPListener) Start(ctx context.Context) error {
	l.server = &http.Server{
		Addr:      l.Addr,
		Handler:   l.mux(),
		TLSConfig: l.TLSConfig,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if l.TLSConfig != nil {
			err = l.server.ListenAndServeTLS("", "")
		} else {
			err = l.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Logger.Warn("http listener stopped with error", "addr", l.Addr, "error", err)
		}
		errCh <- err
	}()

	// Give the server a moment to fail fast on a bad bind before returning,
	// matching the other listeners' "Start returns once bound" contract.
	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the HTTP server down.
func (l *HTTPListener) Stop() error {
	if l.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}
