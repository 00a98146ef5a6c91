// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package telemetry wires the checkpoint uploader and stats monitor onto
// independent cron schedules, the same one-cron-job-per-concern shape the
// teacher's backup scheduler uses for its per-entry jobs.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is a single named, schedulable unit of work. Errors are logged, never
// propagated — a failed checkpoint upload or stats sample must never
// interrupt replication.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs a fixed set of Jobs on independent cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler registers every job and returns a Scheduler ready to Start.
func NewScheduler(jobs []Job, logger *slog.Logger) (*Scheduler, error) {
	logger = logger.With("component", "telemetry_scheduler")
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	for _, job := range jobs {
		jobRef := job
		if _, err := c.AddFunc(job.Schedule, func() {
			runJob(jobRef, logger)
		}); err != nil {
			return nil, fmt.Errorf("scheduling job %q: %w", job.Name, err)
		}
		logger.Info("registered telemetry job", "job", job.Name, "schedule", job.Schedule)
	}

	return &Scheduler{cron: c, logger: logger}, nil
}

func runJob(job Job, logger *slog.Logger) {
	if err := job.Run(context.Background()); err != nil {
		logger.Warn("telemetry job failed", "job", job.Name, "error", err)
	}
}

// Start begins running the registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.logger.Info("telemetry scheduler started")
	s.cron.Start()
}

// Stop waits for the current cron tick (if any) to finish, or for ctx to be
// done, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("telemetry scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("telemetry scheduler stop timed out")
	}
}
