package main

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/goliatone/go-relay/core"
)

const exportJobTag = "relay.snapshot.export"

// exportEnqueuer accepts scheduled exports for the job worker.
type exportEnqueuer interface {
	EnqueueScheduledExport(ctx context.Context, at time.Time) error
}

// snapshotScheduler enqueues snapshot exports on the configured cron
// schedule. The job worker runs them and retries transient failures.
type snapshotScheduler struct {
	scheduler *gocron.Scheduler
	enqueuer  exportEnqueuer
	logger    core.Logger
}

func newSnapshotScheduler(enqueuer exportEnqueuer, logger core.Logger) *snapshotScheduler {
	return &snapshotScheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		enqueuer:  enqueuer,
		logger:    logger,
	}
}

func (s *snapshotScheduler) Start(ctx context.Context, spec string) error {
	job, err := s.scheduler.Cron(spec).Do(func() {
		s.exportNow(ctx, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	job.Tag(exportJobTag)
	s.scheduler.StartAsync()
	return nil
}

func (s *snapshotScheduler) exportNow(ctx context.Context, at time.Time) {
	if err := s.enqueuer.EnqueueScheduledExport(ctx, at); err != nil {
		s.logger.Error("enqueue scheduled snapshot export failed", "at", at.Format(time.RFC3339), "error", err)
	}
}

func (s *snapshotScheduler) Stop() {
	s.scheduler.Stop()
}
