package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Enqueue(ctx context.Context, task Task) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task Task) error {
	if task.TaskType == "" {
		task.TaskType = TaskTypeIssueSync
	}
	if task.RepositoryID == 0 {
		return fmt.Errorf("enqueue %s: repository id is required", task.TaskType)
	}
	attempt := task.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"task_type":     string(task.TaskType),
		"repository_id": task.RepositoryID,
		"full_sync":     boolField(task.FullSync),
		"attempt":       attempt,
	}
	if task.Trigger != "" {
		fields["trigger"] = string(task.Trigger)
	}
	if task.TraceID != nil && *task.TraceID != "" {
		fields["trace_id"] = *task.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.TaskType, err)
	}

	p.logger.InfoContext(ctx, "enqueued task",
		"task_type", task.TaskType,
		"repository_id", task.RepositoryID,
		"full_sync", task.FullSync,
		"trigger", task.Trigger,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
