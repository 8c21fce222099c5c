// Package traffic implements the Traffic Monitor: a periodic sampler that
// computes per-session and global byte/count deltas against a rolling
// previous-sample cache, cleared on a calendar-day boundary.
//
// Generalizes internal/telemetry.TelemetryCollector (deleted; it tracked
// bandwidth/latency for the now-removed ML chunk-size predictor) into a
// registry-wide sampler. The daily cache rollover is driven by
// github.com/robfig/cron/v3 running an "@daily" schedule alongside the
// plain interval ticker that drives per-interval sampling — two
// independent clocks for two independent concerns, rather than trying to
// derive a calendar boundary from a ticker.
package traffic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deb2000-sudo/connrelay/internal/registry"
)

// Sample is one session's computed delta for an interval.
type Sample struct {
	SessionID    uint32
	BytesIn      int64
	BytesOut     int64
	FileBytesIn  int64
	FileBytesOut int64
	SendCount    int64
	RecvCount    int64
}

// GlobalSample aggregates every session's Sample for one interval.
type GlobalSample struct {
	At      time.Time
	Samples []Sample
	Totals  Sample
}

type previous struct {
	bytesIn, bytesOut         int64
	fileBytesIn, fileBytesOut int64
	sendCount, recvCount      int64
}

// Monitor periodically diffs each live session's counters against the
// previous sample, publishing a GlobalSample to Publish.
type Monitor struct {
	Registry *registry.Registry
	Interval time.Duration
	Publish  func(GlobalSample)
	Logger   *slog.Logger

	mu       sync.Mutex
	enabled  bool
	previous map[uint32]previous

	cron *cron.Cron
}

// New constructs a Monitor, enabled or disabled per enableAtStart.
func New(reg *registry.Registry, interval time.Duration, enableAtStart bool, publish func(GlobalSample), logger *slog.Logger) *Monitor {
	return &Monitor{
		Registry: reg,
		Interval: interval,
		Publish:  publish,
		Logger:   logger,
		enabled:  enableAtStart,
		previous: make(map[uint32]previous),
	}
}

// Enable turns runtime sampling on.
func (m *Monitor) Enable() {
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
}

// Disable suspends the sampler's periodic trigger without stopping Run.
func (m *Monitor) Disable() {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
}

// Enabled reports whether sampling is currently active.
func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Run drives the interval sampler and the daily cache rollover until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.cron = cron.New()
	_, err := m.cron.AddFunc("@daily", m.clearCache)
	if err != nil {
		m.Logger.Error("traffic monitor: failed to schedule daily rollover", "error", err)
	} else {
		m.cron.Start()
		defer m.cron.Stop()
	}

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Enabled() {
				m.sample()
			}
		}
	}
}

func (m *Monitor) clearCache() {
	m.mu.Lock()
	m.previous = make(map[uint32]previous)
	m.mu.Unlock()
	m.Logger.Info("traffic monitor: cleared rolling sample cache at calendar boundary")
}

func (m *Monitor) sample() {
	live := m.Registry.SnapshotLive()

	m.mu.Lock()
	defer m.mu.Unlock()

	global := GlobalSample{At: time.Now(), Samples: make([]Sample, 0, len(live))}

	for _, s := range live {
		snap := s.Snapshot()
		prev := m.previous[s.ID]

		delta := Sample{
			SessionID:    s.ID,
			BytesIn:      snap.BytesIn - prev.bytesIn,
			BytesOut:     snap.BytesOut - prev.bytesOut,
			FileBytesIn:  snap.FileBytesIn - prev.fileBytesIn,
			FileBytesOut: snap.FileBytesOut - prev.fileBytesOut,
			SendCount:    snap.SendCount - prev.sendCount,
			RecvCount:    snap.RecvCount - prev.recvCount,
		}
		global.Samples = append(global.Samples, delta)

		global.Totals.BytesIn += delta.BytesIn
		global.Totals.BytesOut += delta.BytesOut
		global.Totals.FileBytesIn += delta.FileBytesIn
		global.Totals.FileBytesOut += delta.FileBytesOut
		global.Totals.SendCount += delta.SendCount
		global.Totals.RecvCount += delta.RecvCount

		m.previous[s.ID] = previous{
			bytesIn:      snap.BytesIn,
			bytesOut:     snap.BytesOut,
			fileBytesIn:  snap.FileBytesIn,
			fileBytesOut: snap.FileBytesOut,
			sendCount:    snap.SendCount,
			recvCount:    snap.RecvCount,
		}
	}

	if m.Publish != nil {
		m.Publish(global)
	}
}
