// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration for a sink
// replication client.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects which local write path the Sink drives.
type Mode string

const (
	ModeIndexed Mode = "indexed"
	ModeCycle   Mode = "cycle"
	ModeMemory  Mode = "memory"
)

// SinkConfig represents the complete configuration of a sink client.
type SinkConfig struct {
	Sink       SinkInfo         `yaml:"sink"`
	Journal    JournalInfo      `yaml:"journal"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Stats      StatsConfig      `yaml:"stats"`
	Logging    LoggingInfo      `yaml:"logging"`
}

// SinkInfo configures the connection to the Source and the consumer mode.
type SinkInfo struct {
	Address string `yaml:"address"`
	Mode    Mode   `yaml:"mode"`

	MinBufferSize    string `yaml:"min_buffer_size"` // e.g. "256kb"
	MinBufferSizeRaw int64  `yaml:"-"`

	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`

	// CatchupRateBytesPerSec limits the throughput of every socket read on
	// each connection, including reads after the Sink has caught up. 0
	// disables limiting (the default).
	CatchupRateBytesPerSec int64 `yaml:"catchup_rate_bytes_per_sec"`

	// DSCP is an optional RFC 2474/4594 traffic class name (e.g. "AF41",
	// "EF") applied to the TCP socket. Empty disables it.
	DSCP string `yaml:"dscp"`

	TLS TLSClient `yaml:"tls"`
}

// TLSClient contains the mTLS certificate paths for the connection to the
// Source. All three empty disables TLS (plain TCP).
type TLSClient struct {
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// Enabled reports whether TLS is configured.
func (t TLSClient) Enabled() bool {
	return t.CACert != "" || t.ClientCert != "" || t.ClientKey != ""
}

// JournalInfo configures the local journal adapter.
type JournalInfo struct {
	Dir string `yaml:"dir"`

	// DataBlockSize is the indexed journal's block-padding alignment unit.
	DataBlockSize int `yaml:"data_block_size"`

	// EntriesForCycleBits is the right-shift used to derive a cycle-journal
	// cycle from an index.
	EntriesForCycleBits int `yaml:"entries_for_cycle_bits"`
}

// CheckpointConfig configures the optional S3 checkpoint mirror. Purely
// observational: never consulted for resumption.
type CheckpointConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Bucket   string `yaml:"bucket"`
	Key      string `yaml:"key"`
	Region   string `yaml:"region"`
	Schedule string `yaml:"schedule"` // cron expression
}

// StatsConfig configures the optional local resource reporter.
type StatsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression
}

// LoggingInfo contains logging configuration.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// LoadSinkConfig reads and validates the YAML configuration file for a sink
// client.
func LoadSinkConfig(path string) (*SinkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sink config: %w", err)
	}

	var cfg SinkConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing sink config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating sink config: %w", err)
	}

	return &cfg, nil
}

func (c *SinkConfig) validate() error {
	if c.Sink.Address == "" {
		return fmt.Errorf("sink.address is required")
	}

	switch c.Sink.Mode {
	case ModeIndexed, ModeCycle, ModeMemory:
	case "":
		c.Sink.Mode = ModeIndexed
	default:
		return fmt.Errorf("sink.mode must be indexed, cycle or memory, got %q", c.Sink.Mode)
	}

	if c.Sink.Mode != ModeMemory && c.Journal.Dir == "" {
		return fmt.Errorf("journal.dir is required for sink.mode %q", c.Sink.Mode)
	}

	if c.Sink.MinBufferSize == "" {
		c.Sink.MinBufferSize = "64kb"
	}
	parsed, err := ParseByteSize(c.Sink.MinBufferSize)
	if err != nil {
		return fmt.Errorf("sink.min_buffer_size: %w", err)
	}
	if parsed < protocolMinBufferFloor {
		return fmt.Errorf("sink.min_buffer_size must be at least %d bytes (one frame header + lookahead), got %d", protocolMinBufferFloor, parsed)
	}
	c.Sink.MinBufferSizeRaw = parsed

	if c.Sink.ReconnectDelay <= 0 {
		c.Sink.ReconnectDelay = 1 * time.Second
	}
	if c.Sink.MaxReconnectDelay <= 0 {
		c.Sink.MaxReconnectDelay = 30 * time.Second
	}
	if c.Sink.MaxReconnectDelay < c.Sink.ReconnectDelay {
		return fmt.Errorf("sink.max_reconnect_delay must be >= sink.reconnect_delay")
	}
	if c.Sink.DialTimeout <= 0 {
		c.Sink.DialTimeout = 10 * time.Second
	}
	if c.Sink.CatchupRateBytesPerSec < 0 {
		return fmt.Errorf("sink.catchup_rate_bytes_per_sec must be >= 0")
	}

	if c.Journal.DataBlockSize <= 0 {
		c.Journal.DataBlockSize = 4096
	}
	if c.Journal.EntriesForCycleBits <= 0 {
		c.Journal.EntriesForCycleBits = 40
	}

	if c.Checkpoint.Enabled {
		if c.Checkpoint.Bucket == "" || c.Checkpoint.Key == "" {
			return fmt.Errorf("checkpoint.bucket and checkpoint.key are required when checkpoint.enabled is true")
		}
		if c.Checkpoint.Schedule == "" {
			c.Checkpoint.Schedule = "@every 5m"
		}
	}
	if c.Stats.Enabled && c.Stats.Schedule == "" {
		c.Stats.Schedule = "@every 30s"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// protocolMinBufferFloor is the minimum receive buffer the connector needs to
// make progress: one frame header plus an 8-byte look-ahead for a resume-ack
// carrying its index inline.
const protocolMinBufferFloor = 20
