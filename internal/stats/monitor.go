// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stats periodically samples local resource usage and logs it
// structurally, the observability counterpart to the checkpoint package's
// remote mirror.
package stats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot holds the system metrics sampled on the last Collect.
type Snapshot struct {
	CPUPercent      float64
	MemoryPercent   float64
	DiskFreePercent float64
}

// Monitor samples local resource usage on demand and caches the last
// snapshot for readers that don't want to pay the collection cost
// (gopsutil hits /proc and the filesystem) on every call.
type Monitor struct {
	logger   *slog.Logger
	diskPath string

	mu   sync.RWMutex
	last Snapshot
}

// NewMonitor builds a Monitor that reports free space on diskPath (e.g.
// the journal directory) alongside CPU and memory usage.
func NewMonitor(diskPath string, logger *slog.Logger) *Monitor {
	return &Monitor{
		diskPath: diskPath,
		logger:   logger.With("component", "stats_monitor"),
	}
}

// Collect samples CPU, memory and disk usage and caches the result. A
// per-metric failure is logged at debug level and leaves that field zero;
// it never prevents the other metrics from being reported.
func (m *Monitor) Collect() Snapshot {
	var snap Snapshot

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		snap.CPUPercent = percentages[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage(m.diskPath); err == nil {
		snap.DiskFreePercent = 100 - d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "path", m.diskPath, "error", err)
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()
	return snap
}

// Last returns the most recently collected Snapshot without sampling.
func (m *Monitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Report is called on the configured schedule: it collects a fresh
// snapshot and logs it as a structured line.
func (m *Monitor) Report() {
	snap := m.Collect()
	m.logger.Info("resource stats",
		"cpu_percent", snap.CPUPercent,
		"memory_percent", snap.MemoryPercent,
		"disk_free_percent", snap.DiskFreePercent,
		"sampled_at", time.Now().Format(time.RFC3339),
	)
}
