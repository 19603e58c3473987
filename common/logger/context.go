package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so repository and delivery identifiers set
// once at the edge show up in every log statement further down the call chain.
type LogFields struct {
	RepositoryID *int64  // Local repository ID
	WorkspaceID  *int64  // Workspace owning the repository
	SyncRunID    *int64  // Snowflake ID of one sync run
	DeliveryID   *string // X-GitHub-Delivery
	MessageID    *string // Redis stream message ID
	EventType    *string // GitHub event type (e.g., "issues", "pull_request")
	Component    string  // Component name (OTel semantic convention style, e.g., "ghsync.sync.engine")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.RepositoryID != nil {
		result.RepositoryID = new.RepositoryID
	}
	if new.WorkspaceID != nil {
		result.WorkspaceID = new.WorkspaceID
	}
	if new.SyncRunID != nil {
		result.SyncRunID = new.SyncRunID
	}
	if new.DeliveryID != nil {
		result.DeliveryID = new.DeliveryID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.EventType != nil {
		result.EventType = new.EventType
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{RepositoryID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
