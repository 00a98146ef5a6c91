// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package daemon wires a Sink's connector, journal, handle and optional
// telemetry jobs into a process that runs until signaled.
package daemon

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nishisan-dev/sink-replicator/internal/checkpoint"
	"github.com/nishisan-dev/sink-replicator/internal/config"
	"github.com/nishisan-dev/sink-replicator/internal/connector"
	"github.com/nishisan-dev/sink-replicator/internal/journal"
	"github.com/nishisan-dev/sink-replicator/internal/pki"
	"github.com/nishisan-dev/sink-replicator/internal/sink"
	"github.com/nishisan-dev/sink-replicator/internal/stats"
	"github.com/nishisan-dev/sink-replicator/internal/telemetry"
)

// advanceIdleBackoff is how long the consume loop sleeps after an Advance
// that made no progress (a heartbeat, or an Open aborted by the close
// signal), so an idle Source doesn't spin the loop.
const advanceIdleBackoff = 50 * time.Millisecond

// Run loads and wires every component described by cfg and blocks until
// SIGINT or SIGTERM.
func Run(cfg *config.SinkConfig, logger *slog.Logger) error {
	var tlsCfg *tls.Config
	if cfg.Sink.TLS.Enabled() {
		var err error
		tlsCfg, err = pki.NewClientTLSConfig(cfg.Sink.TLS.CACert, cfg.Sink.TLS.ClientCert, cfg.Sink.TLS.ClientKey)
		if err != nil {
			return fmt.Errorf("loading client tls config: %w", err)
		}
	}

	var dscp int
	if cfg.Sink.DSCP != "" {
		var err error
		dscp, err = connector.ParseDSCP(cfg.Sink.DSCP)
		if err != nil {
			return fmt.Errorf("parsing sink.dscp: %w", err)
		}
	}

	newConnector := func() (*connector.Connector, *connector.CloseSignal) {
		signal := connector.NewCloseSignal()
		c := connector.New(connector.Config{
			Address:                cfg.Sink.Address,
			MinBufferSize:          int(cfg.Sink.MinBufferSizeRaw),
			ReconnectDelay:         cfg.Sink.ReconnectDelay,
			MaxReconnectDelay:      cfg.Sink.MaxReconnectDelay,
			DialTimeout:            cfg.Sink.DialTimeout,
			DSCP:                   dscp,
			TLSConfig:              tlsCfg,
			CatchupRateBytesPerSec: cfg.Sink.CatchupRateBytesPerSec,
		}, signal, logger)
		return c, signal
	}

	var indexedJournal journal.IndexedJournal
	var cycleJournal journal.CycleJournal
	switch cfg.Sink.Mode {
	case config.ModeIndexed:
		j, err := journal.OpenFileIndexedJournal(cfg.Journal.Dir, cfg.Journal.DataBlockSize)
		if err != nil {
			return fmt.Errorf("opening indexed journal: %w", err)
		}
		indexedJournal = j
	case config.ModeCycle:
		j, err := journal.OpenFileCycleJournal(cfg.Journal.Dir, cfg.Journal.EntriesForCycleBits)
		if err != nil {
			return fmt.Errorf("opening cycle journal: %w", err)
		}
		cycleJournal = j
	}

	s := sink.New(cfg.Sink.Mode, newConnector, indexedJournal, cycleJournal, logger)
	defer s.Close()

	var handle sink.Handle
	var err error
	if cfg.Sink.Mode == config.ModeMemory {
		handle, err = s.CreateTailer()
	} else {
		handle, err = s.CreateExcerpt()
	}
	if err != nil {
		return fmt.Errorf("creating sink handle: %w", err)
	}

	jobs, err := telemetryJobs(cfg, s, logger)
	if err != nil {
		return fmt.Errorf("building telemetry jobs: %w", err)
	}

	var sched *telemetry.Scheduler
	if len(jobs) > 0 {
		sched, err = telemetry.NewScheduler(jobs, logger)
		if err != nil {
			return fmt.Errorf("scheduling telemetry jobs: %w", err)
		}
		sched.Start()
	}

	stopCh := make(chan struct{})
	go consumeLoop(handle, logger, stopCh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	close(stopCh)

	if sched != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sched.Stop(ctx)
		cancel()
	}

	return nil
}

// consumeLoop drives the handle until stopCh is closed. It unwraps the
// registry wrapper to reach the concrete write path, then type-asserts to
// Advancer for the two persistent write paths, or Tailer for the memory
// mode's pull-driven walk.
func consumeLoop(handle sink.Handle, logger *slog.Logger, stopCh <-chan struct{}) {
	inner := handle
	if u, ok := handle.(interface{ Unwrap() sink.Handle }); ok {
		inner = u.Unwrap()
	}

	if advancer, ok := inner.(sink.Advancer); ok {
		for {
			select {
			case <-stopCh:
				return
			default:
			}
			applied, err := advancer.Advance()
			if err != nil {
				logger.Error("fatal replication error, stopping consume loop", "error", err)
				return
			}
			if !applied {
				time.Sleep(advanceIdleBackoff)
			}
		}
	}

	if tailer, ok := inner.(sink.Tailer); ok {
		// NextIndex falls back to positioning at the tailer's initial
		// currentIdx (ResumeFromEnd) the first time it is called on an
		// unopened connector, so no separate ToEnd call is needed here.
		for {
			select {
			case <-stopCh:
				return
			default:
			}
			if !tailer.NextIndex() {
				time.Sleep(advanceIdleBackoff)
				continue
			}
			tailer.Finish()
		}
	}
}

func telemetryJobs(cfg *config.SinkConfig, s *sink.Sink, logger *slog.Logger) ([]telemetry.Job, error) {
	var jobs []telemetry.Job

	if cfg.Checkpoint.Enabled {
		uploader, err := checkpoint.New(context.Background(), cfg.Checkpoint.Region, cfg.Checkpoint.Bucket, cfg.Checkpoint.Key,
			func() (int64, int64) { return s.LastWrittenIndex(), s.Size() }, logger)
		if err != nil {
			return nil, fmt.Errorf("building checkpoint uploader: %w", err)
		}
		jobs = append(jobs, telemetry.Job{
			Name:     "checkpoint",
			Schedule: cfg.Checkpoint.Schedule,
			Run:      uploader.Upload,
		})
	}

	if cfg.Stats.Enabled {
		monitor := stats.NewMonitor(cfg.Journal.Dir, logger)
		jobs = append(jobs, telemetry.Job{
			Name:     "stats",
			Schedule: cfg.Stats.Schedule,
			Run: func(ctx context.Context) error {
				monitor.Report()
				return nil
			},
		})
	}

	return jobs, nil
}
