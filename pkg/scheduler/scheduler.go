// Package scheduler triggers bucket scans on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/sgaunet/s3bucketstats/pkg/scanner"
)

// Scanner runs one scan.
type Scanner interface {
	Scan(ctx context.Context) (scanner.Run, error)
}

// Scheduler manages background jobs for S3 scanning
type Scheduler struct {
	cron     *cron.Cron
	scanner  Scanner
	schedule string
	log      *slog.Logger
}

// NewScheduler creates a new scheduler instance. An empty schedule disables
// background scans.
func NewScheduler(schedule string, s Scanner) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		scanner:  s,
		schedule: schedule,
		log:      slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger for the scheduler
func (s *Scheduler) SetLogger(log *slog.Logger) {
	s.log = log
}

// Start adds the scan job and starts the scheduler. Jobs run with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.schedule == "" {
		s.log.Info("Background scanning is disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.runJob(ctx) }); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	s.log.Info("Starting scheduler", slog.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running scan to return.
func (s *Scheduler) Stop() {
	s.log.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runJob(ctx context.Context) {
	s.log.Info("Starting scheduled S3 scan")
	run, err := s.scanner.Scan(ctx)
	switch {
	case errors.Is(err, scanner.ErrScanInProgress):
		s.log.Info("Skipping scheduled scan, a scan is already running")
	case err != nil:
		s.log.Error("Scheduled scan failed", slog.String("error", err.Error()))
	default:
		s.log.Info("Scheduled scan completed successfully",
			slog.String("run", run.ID.String()),
			slog.Int("buckets", run.Result.Totals.TotalBuckets))
	}
}
