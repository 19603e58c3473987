package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/ghsync/common/logger"
	"basegraph.app/ghsync/internal/githubapi"
	"basegraph.app/ghsync/internal/queue"
	"basegraph.app/ghsync/internal/service"
)

// maxErrorLength bounds the error text carried on requeued and dead messages.
const maxErrorLength = 500

type Config struct {
	MaxAttempts int
	BatchSize   int
	// ErrorBackoff is the pause after a failed read from the stream.
	ErrorBackoff time.Duration
}

type Worker struct {
	consumer Consumer
	syncer   Syncer
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, syncer Syncer, cfg Config) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		consumer:  consumer,
		syncer:    syncer,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "ghsync.worker"})
	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				select {
				case <-ctx.Done():
				case <-w.stopCh:
				case <-time.After(w.cfg.ErrorBackoff):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		_ = w.Handle(ctx, msg)
	}
	return nil
}

// Handle processes msg and settles it: acked on success, requeued on a
// retryable failure, moved to the DLQ once attempts run out. It is also the
// reclaimer's processor.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	if err := w.processMessageSafe(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "message processing failed",
			"error", err,
			"message_id", msg.ID,
			"repository_id", msg.RepositoryID)
		w.handleFailedMessage(ctx, msg, err)
	}
	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"repository_id", msg.RepositoryID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage runs the sync a message asks for and acks it when there is
// nothing left to retry.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	msgID := msg.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RepositoryID: logger.Ptr(msg.RepositoryID),
		MessageID:    &msgID,
	})

	var span *logger.SpanContext
	if msg.TraceID != "" {
		span = logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.sync_repository")
	} else {
		span = logger.StartSpan(ctx, "worker.sync_repository")
	}
	defer span.End()
	ctx = span.Context()

	slog.InfoContext(ctx, "processing sync task",
		"full_sync", msg.FullSync,
		"trigger", msg.Trigger,
		"attempt", msg.Attempt)

	start := time.Now()
	result, err := w.syncer.Sync(ctx, msg.RepositoryID, service.SyncOptions{
		Full:      msg.FullSync,
		BatchSize: w.cfg.BatchSize,
	})
	switch {
	case errors.Is(err, service.ErrSyncInProgress),
		errors.Is(err, service.ErrRepositoryNotFound),
		errors.Is(err, service.ErrRepositoryDisabled):
		slog.InfoContext(ctx, "sync task skipped", "reason", err.Error())
	case err != nil:
		span.RecordError(err)
		return err
	default:
		slog.InfoContext(ctx, "sync task completed",
			"processed", result.Processed,
			"created", result.Created,
			"updated", result.Updated,
			"errors", result.Errors,
			"duration_ms", time.Since(start).Milliseconds())
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Left pending; the reclaimer redelivers it.
		slog.WarnContext(ctx, "failed to ACK message", "error", err, "message_id", msg.ID)
	}
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	errMsg := logger.Truncate(err.Error(), maxErrorLength)
	if msg.Attempt >= w.cfg.MaxAttempts || githubapi.IsAuthError(err) {
		slog.ErrorContext(ctx, "giving up on message, sending to DLQ",
			"message_id", msg.ID,
			"repository_id", msg.RepositoryID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, errMsg); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"repository_id", msg.RepositoryID,
		"attempt", msg.Attempt,
		"rate_limited", githubapi.IsRateLimited(err))
	if requeueErr := w.consumer.Requeue(ctx, msg, errMsg); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
