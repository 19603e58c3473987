package service

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

func traceIDFromContext(ctx context.Context) *string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return nil
	}
	traceID := sc.TraceID().String()
	return &traceID
}
