// Package worker runs the periodic background jobs: outcome redelivery and
// expiry of stale pending matches.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type OutcomeRedeliverer interface {
	RedeliverDue(ctx context.Context) (int, error)
}

type PendingExpirer interface {
	ExpirePendingMatches(ctx context.Context, ttl time.Duration) (int, error)
}

type Config struct {
	OutcomeSweepInterval time.Duration
	PendingMatchTTL      time.Duration
	// ExpirySweepInterval defaults to OutcomeSweepInterval.
	ExpirySweepInterval time.Duration
	// JobTimeout bounds one run of any job. Defaults to 30s.
	JobTimeout time.Duration
}

type Worker struct {
	sched  gocron.Scheduler
	logger *slog.Logger
}

// Start schedules the jobs and starts the scheduler. Jobs use ctx as their
// parent context; Shutdown stops them.
func Start(ctx context.Context, cfg Config, outcomes OutcomeRedeliverer, matches PendingExpirer, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OutcomeSweepInterval <= 0 {
		cfg.OutcomeSweepInterval = time.Minute
	}
	if cfg.ExpirySweepInterval <= 0 {
		cfg.ExpirySweepInterval = cfg.OutcomeSweepInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	w := &Worker{sched: sched, logger: logger}

	if outcomes != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.OutcomeSweepInterval),
			gocron.NewTask(func() {
				runCtx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
				defer cancel()
				if _, err := outcomes.RedeliverDue(runCtx); err != nil {
					logger.Error("worker: outcome redelivery failed", "err", err)
				}
			}),
			gocron.WithName("outcome-redelivery"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("schedule outcome redelivery: %w", err)
		}
	}

	if matches != nil && cfg.PendingMatchTTL > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.ExpirySweepInterval),
			gocron.NewTask(func() {
				runCtx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
				defer cancel()
				if _, err := matches.ExpirePendingMatches(runCtx, cfg.PendingMatchTTL); err != nil {
					logger.Error("worker: pending match expiry failed", "err", err)
				}
			}),
			gocron.WithName("pending-match-expiry"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("schedule pending match expiry: %w", err)
		}
	}

	sched.Start()
	logger.Info("worker started", "jobs", len(sched.Jobs()), "outcome_sweep", cfg.OutcomeSweepInterval.String())
	return w, nil
}

func (w *Worker) Shutdown() error {
	if err := w.sched.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	w.logger.Info("worker stopped")
	return nil
}
