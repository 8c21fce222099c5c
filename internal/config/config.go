// Package config defines the Config struct the core is constructed with
// and a YAML loader used only by cmd/server. Every component takes a
// locally-supplied Config value rather than reaching into a process-wide
// global, and only cmd/server calls the file loader.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PriorityBounds is the {min, max} worker bound for one priority class.
type PriorityBounds struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// RetryPolicy is the per-priority retry table.
type RetryPolicy struct {
	MaxRetries int           `yaml:"max_retries"`
	Interval   time.Duration `yaml:"interval"`
}

// Config is every startup option the core needs. Zero value is invalid;
// call Normalize (or load via Load, which calls it) before use.
type Config struct {
	TCPPort      int      `yaml:"tcp_port"`
	TLSPort      int      `yaml:"tls_port"`
	UDPPort      int      `yaml:"udp_port"`
	HTTPPrefixes []string `yaml:"http_prefixes"`
	HTTPPort     int      `yaml:"http_port"`
	HTTPSPort    int      `yaml:"https_port"`

	ServerCertPath        string `yaml:"server_cert_path"`
	ServerKeyPath         string `yaml:"server_key_path"`
	ServerCertPassword    string `yaml:"server_cert_password"`
	TrustedClientCertPath string `yaml:"trusted_client_cert_path"`

	MonitorIntervalMS   int `yaml:"monitor_interval_ms"`
	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`
	LivenessTimeoutSec  int `yaml:"liveness_timeout_seconds"`

	MaxPacketSize            uint32  `yaml:"max_packet_size"`
	AcceptedProtocolVersions []uint8 `yaml:"accepted_protocol_versions"`

	PriorityWorkerBounds map[string]PriorityBounds `yaml:"priority_worker_bounds"`
	RetryPolicies        map[string]RetryPolicy    `yaml:"retry_policy"`

	EnableTrafficMonitor bool `yaml:"enable_traffic_monitor"`

	AlertWebhookURL            string         `yaml:"alert_webhook_url"`
	EgressRateLimitBytesPerSec map[string]int `yaml:"egress_rate_limit_bytes_per_sec"`
	ErasureEnabled             bool           `yaml:"erasure_enabled"`
	ErasureDataShards          int            `yaml:"erasure_data_shards"`
	ErasureParityShards        int            `yaml:"erasure_parity_shards"`
	PendingQueueMaxPerTarget   int            `yaml:"pending_queue_max_per_target"`

	EncryptionKeyHex string `yaml:"encryption_key_hex"`

	FileTransferRoot string `yaml:"file_transfer_root"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// Default returns a Config populated with every default value.
func Default() Config {
	return Config{
		TCPPort:      9001,
		TLSPort:      9002,
		UDPPort:      9003,
		HTTPPort:     9004,
		HTTPSPort:    9005,
		HTTPPrefixes: []string{"/api/v1"},

		MonitorIntervalMS:   5000,
		HeartbeatIntervalMS: 10000,
		LivenessTimeoutSec:  45,

		MaxPacketSize:            128 * 1024 * 1024,
		AcceptedProtocolVersions: []uint8{0x01, 0x02},

		PriorityWorkerBounds: map[string]PriorityBounds{},
		RetryPolicies: map[string]RetryPolicy{
			"high":   {MaxRetries: 5, Interval: 5 * time.Second},
			"medium": {MaxRetries: 3, Interval: 10 * time.Second},
			"low":    {MaxRetries: 1, Interval: 15 * time.Second},
		},

		EnableTrafficMonitor: false,

		PendingQueueMaxPerTarget: 1000,

		FileTransferRoot: "transfers",

		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Normalize fills the zero-valued interval, timeout, packet-size, protocol
// version, retry, pending-queue, transfer-root and logging fields with their
// defaults (and the erasure shard counts when ErasureEnabled), so a caller
// can construct a partial Config without repeating those defaults. Ports,
// HTTP prefixes and worker bounds are left as given.
func (c *Config) Normalize() {
	def := Default()
	if c.MonitorIntervalMS == 0 {
		c.MonitorIntervalMS = def.MonitorIntervalMS
	}
	if c.HeartbeatIntervalMS == 0 {
		c.HeartbeatIntervalMS = def.HeartbeatIntervalMS
	}
	if c.LivenessTimeoutSec == 0 {
		c.LivenessTimeoutSec = def.LivenessTimeoutSec
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = def.MaxPacketSize
	}
	if len(c.AcceptedProtocolVersions) == 0 {
		c.AcceptedProtocolVersions = def.AcceptedProtocolVersions
	}
	if c.RetryPolicies == nil {
		c.RetryPolicies = def.RetryPolicies
	}
	if c.PendingQueueMaxPerTarget == 0 {
		c.PendingQueueMaxPerTarget = def.PendingQueueMaxPerTarget
	}
	if c.FileTransferRoot == "" {
		c.FileTransferRoot = def.FileTransferRoot
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	if c.ErasureEnabled {
		if c.ErasureDataShards == 0 {
			c.ErasureDataShards = 10
		}
		if c.ErasureParityShards == 0 {
			c.ErasureParityShards = 3
		}
	}
}

// Load reads a YAML file at path into a Config, normalizing defaults
// afterward. This is the only place in the module that touches the
// filesystem for configuration purposes; internal/ components themselves
// are always handed an already-built Config value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// RetryFor returns the RetryPolicy configured for a priority name ("high",
// "medium", "low"), falling back to the default for that priority if unset.
func (c *Config) RetryFor(name string) RetryPolicy {
	if p, ok := c.RetryPolicies[name]; ok {
		return p
	}
	return Default().RetryPolicies[name]
}
