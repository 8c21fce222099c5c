package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultRetryPolicies(t *testing.T) {
	cfg := Default()
	high := cfg.RetryFor("high")
	if high.MaxRetries != 5 || high.Interval != 5*time.Second {
		t.Fatalf("unexpected high retry policy: %+v", high)
	}
	low := cfg.RetryFor("low")
	if low.MaxRetries != 1 || low.Interval != 15*time.Second {
		t.Fatalf("unexpected low retry policy: %+v", low)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	var cfg Config
	cfg.Normalize()
	if cfg.MaxPacketSize != Default().MaxPacketSize {
		t.Fatalf("expected MaxPacketSize default to be filled")
	}
	if len(cfg.AcceptedProtocolVersions) == 0 {
		t.Fatalf("expected AcceptedProtocolVersions default to be filled")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "tcp_port: 7001\nenable_traffic_monitor: true\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.TCPPort != 7001 {
		t.Fatalf("expected TCPPort 7001, got %d", cfg.TCPPort)
	}
	if !cfg.EnableTrafficMonitor {
		t.Fatalf("expected EnableTrafficMonitor true")
	}
	if cfg.MaxPacketSize == 0 {
		t.Fatalf("expected defaults normalized after load")
	}
}

func TestErasureDefaultsWhenEnabled(t *testing.T) {
	cfg := Config{ErasureEnabled: true}
	cfg.Normalize()
	if cfg.ErasureDataShards == 0 || cfg.ErasureParityShards == 0 {
		t.Fatalf("expected erasure shard defaults when enabled: %+v", cfg)
	}
}
