// Package scheduler drives job monitoring, cleanup and WFO refresh on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"backtest-lab/internal/api"
	"backtest-lab/internal/jobs"
	"backtest-lab/internal/logger"
)

// JobMonitor is the subset of jobs.Manager the scheduler drives.
type JobMonitor interface {
	Monitor(ctx context.Context) (*jobs.MonitorSummary, error)
	Cleanup(ctx context.Context, olderThanDays int) (int, error)
}

// WFORefresher finalizes WFO jobs whose slices have settled.
type WFORefresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// Broadcaster pushes messages to stream clients.
type Broadcaster interface {
	Broadcast(msgType string, data any) error
}

// Schedules holds cron specs with a seconds field. Empty disables the task.
type Schedules struct {
	Monitor    string
	Cleanup    string
	WFORefresh string
}

// Options for creating a Scheduler.
type Options struct {
	Jobs        JobMonitor
	WFO         WFORefresher
	Broadcaster Broadcaster
	Schedules   Schedules
	// CleanupOlderThanDays is passed to JobMonitor.Cleanup.
	CleanupOlderThanDays int
	// Timeout bounds each task run. Zero means no limit.
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// Scheduler runs periodic housekeeping tasks.
type Scheduler struct {
	cron        *cron.Cron
	jobs        JobMonitor
	wfo         WFORefresher
	broadcaster Broadcaster
	cleanupDays int
	timeout     time.Duration
	log         logrus.FieldLogger
}

// New creates a scheduler and registers the configured tasks.
// Overlapping runs of the same task are skipped.
func New(opts Options) (*Scheduler, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	s := &Scheduler{
		cron:        cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobs:        opts.Jobs,
		wfo:         opts.WFO,
		broadcaster: opts.Broadcaster,
		cleanupDays: opts.CleanupOlderThanDays,
		timeout:     opts.Timeout,
		log:         log.WithField("component", "scheduler"),
	}

	tasks := []struct {
		name string
		spec string
		run  func(context.Context) error
		ok   bool
	}{
		{"monitor", opts.Schedules.Monitor, s.RunMonitor, opts.Jobs != nil},
		{"cleanup", opts.Schedules.Cleanup, s.RunCleanup, opts.Jobs != nil},
		{"wfo_refresh", opts.Schedules.WFORefresh, s.RunWFORefresh, opts.WFO != nil},
	}
	for _, t := range tasks {
		if t.spec == "" || !t.ok {
			continue
		}
		if err := s.add(t.name, t.spec, t.run); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, run func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		if err := run(ctx); err != nil {
			s.log.WithError(err).WithField("task", name).Error("scheduled task failed")
		}
	})
	if err != nil {
		return fmt.Errorf("add %s task %q: %w", name, spec, err)
	}
	s.log.WithFields(logrus.Fields{"task": name, "schedule": spec}).Info("task scheduled")
	return nil
}

// Start begins running scheduled tasks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running tasks to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("stopped before running tasks finished")
	}
}

// Entries returns the number of registered tasks.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// RunMonitor runs one monitor pass and broadcasts its summary.
func (s *Scheduler) RunMonitor(ctx context.Context) error {
	summary, err := s.jobs.Monitor(ctx)
	if err != nil {
		return fmt.Errorf("monitor pass: %w", err)
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.Broadcast(api.MessageMonitor, summary); err != nil {
			s.log.WithError(err).Warn("broadcast monitor summary")
		}
	}
	return nil
}

// RunCleanup removes old terminal jobs.
func (s *Scheduler) RunCleanup(ctx context.Context) error {
	n, err := s.jobs.Cleanup(ctx, s.cleanupDays)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if n > 0 {
		s.log.WithField("deleted", n).Info("old jobs cleaned up")
	}
	return nil
}

// RunWFORefresh finalizes settled WFO jobs.
func (s *Scheduler) RunWFORefresh(ctx context.Context) error {
	n, err := s.wfo.RefreshAll(ctx)
	if err != nil {
		return fmt.Errorf("wfo refresh: %w", err)
	}
	if n > 0 && s.broadcaster != nil {
		if err := s.broadcaster.Broadcast(api.MessageWFO, map[string]int{"finalized": n}); err != nil {
			s.log.WithError(err).Warn("broadcast wfo refresh")
		}
	}
	return nil
}
