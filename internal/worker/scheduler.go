package worker

import (
	"context"
	"log/slog"
	"time"

	"basegraph.app/ghsync/common/logger"
	"basegraph.app/ghsync/internal/queue"
)

// Scheduler queues an incremental sync of every enabled repository on a
// fixed interval, starting immediately.
type Scheduler struct {
	enqueuer Enqueuer
	interval time.Duration

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewScheduler(enqueuer Enqueuer, interval time.Duration) *Scheduler {
	return &Scheduler{
		enqueuer:  enqueuer,
		interval:  interval,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "ghsync.worker.scheduler"})

	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "scheduler started", "interval", s.interval)

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

func (s *Scheduler) tick(ctx context.Context) {
	n, err := s.enqueuer.EnqueueEnabled(ctx, queue.TriggerSchedule)
	if err != nil {
		slog.ErrorContext(ctx, "scheduling syncs failed", "error", err, "enqueued", n)
		return
	}
	slog.InfoContext(ctx, "scheduled syncs", "enqueued", n)
}
