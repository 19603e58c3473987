package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"basegraph.app/ghsync/common/logger"
	"github.com/redis/go-redis/v9"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter queue stream for failed messages
	BatchSize    int64         // Number of messages to process per batch
	Block        time.Duration // How long to block/poll for new messages
	MaxAttempts  int           // Maximum retry attempts before moving to DLQ
	RequeueDelay time.Duration // Delay before retrying failed messages
}

type Message struct {
	ID           string
	TaskType     TaskType
	RepositoryID int64
	FullSync     bool
	Trigger      Trigger
	Attempt      int
	TraceID      string
	LastError    string
	Raw          redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Consumer groups are just readers, messages live in the stream itself.
	// If we recreate the group, we want to see everything that's already there.
	// Starting from "0" instead of "$" means we don't lose messages during restarts.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "ghsync.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// > = New messages not yet delivered to anyone. 0 = this consumer's pending message
		// Unacked messages will be handled by reclaimer which runs on a different goroutine
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	// XReadGroup supports multiple streams, but we only read one so this outer loop only runs once.
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	nextAttempt := msg.Attempt + 1
	return c.RequeueWithAttempt(ctx, msg, nextAttempt, errMsg)
}

func (c *RedisConsumer) RequeueWithAttempt(ctx context.Context, msg Message, attempt int, errMsg string) error {
	if attempt <= 0 {
		attempt = msg.Attempt
		if attempt <= 0 {
			attempt = 1
		}
	}

	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	values := messageValues(msg, attempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		t := time.NewTimer(c.cfg.RequeueDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("requeue delay: %w", ctx.Err())
		case <-t.C:
		}
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", attempt,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	values := messageValues(msg, msg.Attempt)
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

// PendingTask is a sync task delivered to a consumer and never acknowledged.
type PendingTask struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// Pending lists up to count tasks that have been pending for at least minIdle.
func (c *RedisConsumer) Pending(ctx context.Context, minIdle time.Duration, count int64) ([]PendingTask, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending (stream=%s): %w", c.cfg.Stream, err)
	}

	tasks := make([]PendingTask, 0, len(pending))
	for _, p := range pending {
		tasks = append(tasks, PendingTask{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			Deliveries: p.RetryCount,
		})
	}
	return tasks, nil
}

// Claim moves a pending task to claimant. It reports false when another
// consumer claimed it first, or when the task could not be parsed, in which
// case it is acknowledged so it is not claimed again.
func (c *RedisConsumer) Claim(ctx context.Context, claimant string, minIdle time.Duration, id string) (Message, bool, error) {
	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: claimant,
		MinIdle:  minIdle,
		Messages: []string{id},
	}).Result()
	if err != nil {
		return Message{}, false, fmt.Errorf("xclaim %s: %w", id, err)
	}
	if len(claimed) == 0 {
		return Message{}, false, nil
	}

	raw := claimed[0]
	msg, err := ParseMessage(raw)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse claimed message, acknowledging",
			"error", err,
			"raw_message_id", raw.ID)
		_ = c.Ack(ctx, Message{ID: raw.ID, Raw: raw})
		return Message{}, false, nil
	}
	return msg, true, nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	taskTypeStr, err := parseOptionalString(msg.Values, "task_type")
	if err != nil {
		return Message{}, err
	}
	taskType := TaskType(taskTypeStr)
	if taskType == "" {
		return Message{}, fmt.Errorf("missing task_type")
	}

	if taskType != TaskTypeIssueSync {
		return Message{}, fmt.Errorf("unknown task_type %q", taskType)
	}

	repositoryID, err := parseInt64(msg.Values, "repository_id")
	if err != nil {
		return Message{}, err
	}
	if repositoryID <= 0 {
		return Message{}, fmt.Errorf("invalid repository_id %d", repositoryID)
	}

	fullSync, err := parseOptionalBool(msg.Values, "full_sync")
	if err != nil {
		return Message{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt <= 0 {
		attempt = 1
	}

	trigger, err := parseOptionalString(msg.Values, "trigger")
	if err != nil {
		return Message{}, err
	}
	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Message{}, err
	}
	lastError, err := parseOptionalString(msg.Values, "last_error")
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:           msg.ID,
		TaskType:     taskType,
		RepositoryID: repositoryID,
		FullSync:     fullSync,
		Trigger:      Trigger(trigger),
		Attempt:      attempt,
		TraceID:      traceID,
		LastError:    lastError,
		Raw:          msg,
	}, nil
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	str := fmt.Sprint(raw)
	num, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	str := fmt.Sprint(raw)
	num, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalBool(values map[string]any, key string) (bool, error) {
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(fmt.Sprint(raw))
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", key, err)
	}
	return b, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func messageValues(msg Message, attempt int) map[string]any {
	values := map[string]any{
		"task_type":     string(msg.TaskType),
		"repository_id": msg.RepositoryID,
		"full_sync":     boolField(msg.FullSync),
		"attempt":       attempt,
	}
	if msg.Trigger != "" {
		values["trigger"] = string(msg.Trigger)
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values
}
