// Package server wires every core component into a single Start/Stop unit,
// generalizing internal/orchestrator/service.go's construction function and
// the per-binary main wiring each cmd/* previously duplicated.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/deb2000-sudo/connrelay/internal/alert"
	"github.com/deb2000-sudo/connrelay/internal/config"
	"github.com/deb2000-sudo/connrelay/internal/dispatch"
	"github.com/deb2000-sudo/connrelay/internal/egress"
	"github.com/deb2000-sudo/connrelay/internal/erasure"
	"github.com/deb2000-sudo/connrelay/internal/filetransfer"
	"github.com/deb2000-sudo/connrelay/internal/heartbeat"
	"github.com/deb2000-sudo/connrelay/internal/ingress"
	"github.com/deb2000-sudo/connrelay/internal/registry"
	"github.com/deb2000-sudo/connrelay/internal/router"
	"github.com/deb2000-sudo/connrelay/internal/traffic"
	"github.com/deb2000-sudo/connrelay/internal/transport"
	"github.com/deb2000-sudo/connrelay/pkg/codec"
	"github.com/deb2000-sudo/connrelay/pkg/models"
)

// listener is the uniform contract every transport listener satisfies.
type listener interface {
	Start(ctx context.Context) error
	Stop() error
}

// Server owns every long-lived component and coordinates their lifecycle.
type Server struct {
	cfg    config.Config
	logger *slog.Logger

	registry *registry.Registry
	codec    *codec.Codec

	dispatchHigh   *dispatch.Pool[ingress.Item]
	dispatchMedium *dispatch.Pool[ingress.Item]
	dispatchLow    *dispatch.Pool[ingress.Item]

	egressHigh   *egress.Pipeline
	egressMedium *egress.Pipeline
	egressLow    *egress.Pipeline
	pending      *egress.PendingQueue
	acks         *egress.AckTracker

	router *router.Router
	files  *filetransfer.Engine

	heartbeatMon *heartbeat.Monitor
	trafficMon   *traffic.Monitor
	notifier     *alert.Notifier

	listeners []listener

	cancel context.CancelFunc
}

// New constructs every component from cfg but starts nothing.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	cfg.Normalize()

	reg := registry.New()
	c, err := buildCodec(cfg)
	if err != nil {
		return nil, err
	}
	notifier := alert.New(cfg.AlertWebhookURL)
	pending := egress.NewPendingQueue(cfg.PendingQueueMaxPerTarget)
	acks := egress.NewAckTracker()

	var coder *erasure.ErasureCoder
	if cfg.ErasureEnabled {
		var err error
		coder, err = erasure.NewErasureCoder(cfg.ErasureDataShards, cfg.ErasureParityShards)
		if err != nil {
			return nil, fmt.Errorf("server: construct erasure coder: %w", err)
		}
	}

	s := &Server{cfg: cfg, logger: logger, registry: reg, codec: c, pending: pending, acks: acks, notifier: notifier}

	resolve := egress.SessionResolver(reg.Get)

	s.egressHigh = egress.NewPipeline(models.PriorityHigh, egress.RetryPolicy(cfg.RetryFor("high")), c, resolve, pending, rateLimiter(cfg, "high"), boundsFor(cfg, "high"), permitsFor(cfg, "high"), egressTimeout, logger)
	s.egressMedium = egress.NewPipeline(models.PriorityMedium, egress.RetryPolicy(cfg.RetryFor("medium")), c, resolve, pending, rateLimiter(cfg, "medium"), boundsFor(cfg, "medium"), permitsFor(cfg, "medium"), egressTimeout, logger)
	s.egressLow = egress.NewPipeline(models.PriorityLow, egress.RetryPolicy(cfg.RetryFor("low")), c, resolve, pending, rateLimiter(cfg, "low"), boundsFor(cfg, "low"), permitsFor(cfg, "low"), egressTimeout, logger)
	s.egressHigh.Acks, s.egressMedium.Acks, s.egressLow.Acks = acks, acks, acks

	filesEngine, err := filetransfer.New(cfg.FileTransferRoot, "", coder, s.egressHigh, logger)
	if err != nil {
		return nil, fmt.Errorf("server: construct file transfer engine: %w", err)
	}
	s.files = filesEngine

	s.router = &router.Router{
		Registry: reg,
		High:     s.egressHigh,
		Medium:   s.egressMedium,
		Low:      s.egressLow,
		Pending:  pending,
		Acks:     acks,
		Files:    filesEngine,
		Logger:   logger,
	}

	s.dispatchHigh = dispatch.New("high", boundsFor(cfg, "high"), permitsFor(cfg, "high"), highTimeout, s.router.Route, logger)
	s.dispatchMedium = dispatch.New("medium", boundsFor(cfg, "medium"), permitsFor(cfg, "medium"), mediumTimeout, s.router.Route, logger)
	s.dispatchLow = dispatch.New("low", boundsFor(cfg, "low"), permitsFor(cfg, "low"), lowTimeout, s.router.Route, logger)
	s.dispatchHigh.OnTimeout = func(item ingress.Item, err error) {
		notifier.OnTimeoutHook("high")(fmt.Sprintf("session=%d kind=%s: %v", item.Session.ID, item.Message.Kind, err))
	}

	ingressPipeline := &ingress.Pipeline{High: s.dispatchHigh, Medium: s.dispatchMedium, Low: s.dispatchLow, Codec: c, Logger: logger}

	s.heartbeatMon = heartbeat.New(reg, msToDuration(cfg.HeartbeatIntervalMS), secToDuration(cfg.LivenessTimeoutSec), logger)
	s.trafficMon = traffic.New(reg, msToDuration(cfg.MonitorIntervalMS), cfg.EnableTrafficMonitor, func(g traffic.GlobalSample) {
		logger.Debug("traffic sample", "sessions", len(g.Samples), "bytes_in", g.Totals.BytesIn, "bytes_out", g.Totals.BytesOut)
	}, logger)

	if cfg.TCPPort > 0 {
		s.listeners = append(s.listeners, transport.NewTCPListener(portAddr(cfg.TCPPort), reg, ingressPipeline, logger))
	}
	if cfg.TLSPort > 0 && cfg.ServerCertPath != "" {
		tlsCfg := transport.TLSConfig{CertPath: cfg.ServerCertPath, KeyPath: cfg.ServerKeyPath, CertPassword: cfg.ServerCertPassword, TrustedClientCerts: cfg.TrustedClientCertPath}
		s.listeners = append(s.listeners, transport.NewTLSListener(portAddr(cfg.TLSPort), tlsCfg, reg, ingressPipeline, logger))
	}
	if cfg.UDPPort > 0 {
		s.listeners = append(s.listeners, transport.NewUDPListener(portAddr(cfg.UDPPort), reg, ingressPipeline, c, logger))
	}
	if cfg.HTTPPort > 0 {
		s.listeners = append(s.listeners, transport.NewHTTPListener(portAddr(cfg.HTTPPort), cfg.HTTPPrefixes, nil, reg, ingressPipeline, logger))
	}
	if cfg.HTTPSPort > 0 && cfg.ServerCertPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ServerCertPath, cfg.ServerKeyPath)
		if err != nil {
			return nil, fmt.Errorf("server: load https certificate: %w", err)
		}
		httpsTLS := &tls.Config{Certificates: []tls.Certificate{cert}}
		s.listeners = append(s.listeners, transport.NewHTTPListener(portAddr(cfg.HTTPSPort), cfg.HTTPPrefixes, httpsTLS, reg, ingressPipeline, logger))
	}

	return s, nil
}

// Start launches every background component and listener.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.dispatchHigh.Start(ctx)
	s.dispatchMedium.Start(ctx)
	s.dispatchLow.Start(ctx)

	s.egressHigh.Start(ctx)
	s.egressMedium.Start(ctx)
	s.egressLow.Start(ctx)

	go s.heartbeatMon.Run(ctx)
	go s.trafficMon.Run(ctx)

	for _, l := range s.listeners {
		if err := l.Start(ctx); err != nil {
			return fmt.Errorf("server: start listener: %w", err)
		}
	}

	s.logger.Info("server started", "tcp_port", s.cfg.TCPPort, "udp_port", s.cfg.UDPPort, "http_port", s.cfg.HTTPPort)
	return nil
}

// Stop cancels every background component and closes every listener.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	for _, l := range s.listeners {
		_ = l.Stop()
	}
	s.dispatchHigh.Stop()
	s.dispatchMedium.Stop()
	s.dispatchLow.Stop()
	s.egressHigh.Stop()
	s.egressMedium.Stop()
	s.egressLow.Stop()
	s.logger.Info("server stopped")
}

// Registry exposes the live session registry for diagnostics/tests.
func (s *Server) Registry() *registry.Registry { return s.registry }
