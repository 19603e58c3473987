package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ghsync"

// Span attribute keys for the sync domain. They mirror LogFields so a trace
// and its logs can be searched by the same identifiers.
const (
	AttrRepositoryID = attribute.Key("ghsync.repository.id")
	AttrWorkspaceID  = attribute.Key("ghsync.workspace.id")
	AttrSyncRunID    = attribute.Key("ghsync.sync_run.id")
	AttrMessageID    = attribute.Key("ghsync.queue.message_id")
	AttrDeliveryID   = attribute.Key("github.webhook.delivery_id")
	AttrEventType    = attribute.Key("github.webhook.event")
)

// SpanContext wraps an OTel span for managed lifecycle.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan creates a child of the current trace. The LogFields already on
// ctx become span attributes. The caller must End the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	opts = append(opts, trace.WithAttributes(FieldAttributes(GetLogFields(ctx))...))
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

// StartSpanFromTraceID continues a trace carried across the Redis queue as a
// hex trace id. An empty or malformed id starts a fresh trace.
func StartSpanFromTraceID(ctx context.Context, traceIDStr string, name string, opts ...trace.SpanStartOption) *SpanContext {
	traceID, err := trace.TraceIDFromHex(traceIDStr)
	if traceIDStr == "" || err != nil {
		return StartSpan(ctx, name, opts...)
	}

	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	opts = append(opts, trace.WithLinks(trace.Link{SpanContext: remote}))
	return StartSpan(trace.ContextWithRemoteSpanContext(ctx, remote), name, opts...)
}

// FieldAttributes converts the set LogFields to span attributes.
func FieldAttributes(f LogFields) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if f.RepositoryID != nil {
		attrs = append(attrs, AttrRepositoryID.Int64(*f.RepositoryID))
	}
	if f.WorkspaceID != nil {
		attrs = append(attrs, AttrWorkspaceID.Int64(*f.WorkspaceID))
	}
	if f.SyncRunID != nil {
		attrs = append(attrs, AttrSyncRunID.Int64(*f.SyncRunID))
	}
	if f.MessageID != nil {
		attrs = append(attrs, AttrMessageID.String(*f.MessageID))
	}
	if f.DeliveryID != nil {
		attrs = append(attrs, AttrDeliveryID.String(*f.DeliveryID))
	}
	if f.EventType != nil {
		attrs = append(attrs, AttrEventType.String(*f.EventType))
	}
	return attrs
}

func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// End completes the span. Safe to call more than once.
func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError records err and marks the span failed.
func (sc *SpanContext) RecordError(err error) {
	if sc.span != nil && err != nil {
		sc.span.RecordError(err)
		sc.span.SetStatus(codes.Error, err.Error())
	}
}

// SetAttributes adds outcome attributes, such as sync counters, to the span.
func (sc *SpanContext) SetAttributes(kv ...attribute.KeyValue) {
	if sc.span != nil {
		sc.span.SetAttributes(kv...)
	}
}

func (sc *SpanContext) Span() trace.Span {
	return sc.span
}
