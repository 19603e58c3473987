package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/ghsync/common/logger"
	"basegraph.app/ghsync/internal/queue"
)

type ReclaimerConfig struct {
	// Claimant is the consumer name reclaimed tasks are moved to.
	Claimant  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
	// MaxDeliveries is how many consumers may take a task before it is
	// dead-lettered instead of run again.
	MaxDeliveries int64
}

// Reclaimer picks up sync tasks left pending by a worker that died between
// XREADGROUP and XACK. Within one cycle a repository is synced at most once;
// further stale tasks for it are acknowledged when the sync that ran covers
// them (a full sync covers an incremental one, not the reverse).
type Reclaimer struct {
	source PendingClaimer
	cfg    ReclaimerConfig
	handle queue.MessageProcessor

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewReclaimer(source PendingClaimer, cfg ReclaimerConfig, handle queue.MessageProcessor) *Reclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 3
	}
	return &Reclaimer{
		source:    source,
		cfg:       cfg,
		handle:    handle,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts the reclaimer loop. Blocks until Stop() is called.
func (r *Reclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "ghsync.worker.reclaimer",
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"max_deliveries", r.cfg.MaxDeliveries)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			if err := r.ReclaimOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
			}
		}
	}
}

// Stop signals the reclaimer to stop gracefully.
func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// ReclaimOnce runs one reclaim cycle over the stale pending tasks.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) error {
	pending, err := r.source.Pending(ctx, r.cfg.MinIdle, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("listing pending sync tasks: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "found stale sync tasks", "count", len(pending))

	// repository id -> whether the sync run for it this cycle was full
	synced := make(map[int64]bool)
	for _, p := range pending {
		if err := r.reclaim(ctx, p, synced); err != nil {
			slog.ErrorContext(ctx, "failed to reclaim sync task",
				"error", err,
				"message_id", p.ID,
				"original_consumer", p.Consumer,
				"idle_time", p.Idle)
		}
	}
	return nil
}

func (r *Reclaimer) reclaim(ctx context.Context, p queue.PendingTask, synced map[int64]bool) error {
	msgID := p.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: &msgID,
	})

	msg, ok, err := r.source.Claim(ctx, r.cfg.Claimant, r.cfg.MinIdle, p.ID)
	if err != nil {
		return err
	}
	if !ok {
		slog.DebugContext(ctx, "sync task already reclaimed or unreadable")
		return nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RepositoryID: logger.Ptr(msg.RepositoryID),
	})

	if p.Deliveries >= r.cfg.MaxDeliveries {
		reason := fmt.Sprintf("abandoned by %d consumers without acknowledgement", p.Deliveries)
		slog.ErrorContext(ctx, "sync task keeps stalling workers, sending to DLQ",
			"deliveries", p.Deliveries,
			"trigger", msg.Trigger)
		return r.source.SendDLQ(ctx, msg, reason)
	}

	if full, ran := synced[msg.RepositoryID]; ran && (full || !msg.FullSync) {
		slog.InfoContext(ctx, "stale sync task covered by a sync run this cycle",
			"full_sync", msg.FullSync,
			"trigger", msg.Trigger)
		return r.source.Ack(ctx, msg)
	}

	slog.InfoContext(ctx, "running reclaimed sync task",
		"original_consumer", p.Consumer,
		"idle_time", p.Idle,
		"deliveries", p.Deliveries,
		"full_sync", msg.FullSync,
		"trigger", msg.Trigger)

	start := time.Now()
	if err := r.handle(ctx, msg); err != nil {
		return fmt.Errorf("handling reclaimed sync task: %w", err)
	}
	synced[msg.RepositoryID] = synced[msg.RepositoryID] || msg.FullSync

	slog.InfoContext(ctx, "reclaimed sync task handled",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
