package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/aaronwang/bidlord/shared/metrics"
)

// DefaultInterval between scheduler ticks
const DefaultInterval = time.Minute

// Scheduler drives a Manager on a fixed interval
type Scheduler struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler
func NewScheduler(manager *Manager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{manager: manager, interval: interval, logger: manager.logger}
}

// Run ticks until ctx is cancelled, running one tick immediately. A tick in progress when
// ctx is cancelled runs to completion.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs the promotion pass then the closure pass
func (s *Scheduler) Tick(ctx context.Context) {
	if _, err := s.manager.PromotePending(ctx); err != nil {
		s.manager.metrics.SchedulerErrors(metrics.PassPromote, 1)
		s.logger.Error("Promotion pass failed", slog.Any("error", err))
	}
	if _, err := s.manager.CloseFinished(ctx); err != nil {
		s.manager.metrics.SchedulerErrors(metrics.PassClose, 1)
		s.logger.Error("Closure pass failed", slog.Any("error", err))
	}
}
