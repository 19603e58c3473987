package worker

import (
	"context"
	"time"

	"basegraph.app/ghsync/internal/queue"
	"basegraph.app/ghsync/internal/service"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// PendingClaimer lists and claims stale pending sync tasks.
// queue.RedisConsumer satisfies it.
type PendingClaimer interface {
	Pending(ctx context.Context, minIdle time.Duration, count int64) ([]queue.PendingTask, error)
	Claim(ctx context.Context, claimant string, minIdle time.Duration, id string) (queue.Message, bool, error)
	Ack(ctx context.Context, msg queue.Message) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Syncer runs one repository sync. service.SyncService satisfies it.
type Syncer interface {
	Sync(ctx context.Context, repositoryID int64, opts service.SyncOptions) (*service.SyncResult, error)
}

// Enqueuer queues scheduled syncs. service.SyncService satisfies it.
type Enqueuer interface {
	EnqueueEnabled(ctx context.Context, trigger queue.Trigger) (int, error)
}
