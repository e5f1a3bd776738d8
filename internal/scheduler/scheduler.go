// Package scheduler runs the incremental update on a fixed interval in daemon mode.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Job is one scheduled run. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs a Job immediately and then every interval. Runs never overlap; a run that
// outlasts the interval delays the next one.
type Scheduler struct {
	scheduler *gocron.Scheduler
	interval  time.Duration
	job       Job
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Scheduler.
func New(interval time.Duration, job Job, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		interval:  interval,
		job:       job,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %s", s.interval)
	}
	_, err := s.scheduler.Every(s.interval).Do(func() {
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Info("scheduled update starting")
		start := time.Now()
		s.job(s.ctx)
		s.logger.Info("scheduled update finished", "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule update: %w", err)
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop cancels the running job and waits for the scheduler to stop.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
