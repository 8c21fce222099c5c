// Package heartbeat implements the Heartbeat Monitor: a background task
// that reaps sessions whose last-seen activity exceeds the configured
// liveness window, without blocking the accept or dispatch paths.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/deb2000-sudo/connrelay/internal/registry"
)

// Monitor periodically scans the Registry's live sessions and disconnects
// any whose last activity is older than Timeout.
type Monitor struct {
	Registry *registry.Registry
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// New constructs a Monitor. interval is the sampling period; timeout is the liveness window.
func New(reg *registry.Registry, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{Registry: reg, Interval: interval, Timeout: timeout, Logger: logger}
}

// Run blocks, sweeping the registry every Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep disconnects every live session whose last activity predates
// m.Timeout. It never blocks on I/O: MarkDisconnected/Remove only touch
// in-memory state, so the accept and dispatch paths are never held up.
func (m *Monitor) sweep() {
	now := time.Now()
	for _, session := range m.Registry.SnapshotLive() {
		if now.Sub(session.LastActivity()) <= m.Timeout {
			continue
		}
		m.Logger.Info("heartbeat monitor: reaping stale session", "session", session.ID, "last_activity", session.LastActivity())
		session.Sender.Close()
		m.Registry.Remove(session.ID)
	}
}
