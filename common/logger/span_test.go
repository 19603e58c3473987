package logger_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/ghsync/common/logger"
)

var _ = Describe("FieldAttributes", func() {
	It("maps the sync identifiers on a context", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			RepositoryID: logger.Ptr(int64(10)),
			SyncRunID:    logger.Ptr(int64(99)),
			DeliveryID:   logger.Ptr("d-1"),
			EventType:    logger.Ptr("issues"),
			Component:    "ghsync.sync.engine",
		})

		Expect(logger.FieldAttributes(logger.GetLogFields(ctx))).To(ConsistOf(
			logger.AttrRepositoryID.Int64(10),
			logger.AttrSyncRunID.Int64(99),
			logger.AttrDeliveryID.String("d-1"),
			logger.AttrEventType.String("issues"),
		))
	})

	It("returns nothing for an empty context", func() {
		Expect(logger.FieldAttributes(logger.GetLogFields(context.Background()))).To(BeEmpty())
	})
})

var _ = Describe("StartSpanFromTraceID", func() {
	It("starts a fresh span for a malformed trace id", func() {
		span := logger.StartSpanFromTraceID(context.Background(), "not-hex", "worker.sync_repository")
		defer span.End()
		Expect(span.Context()).NotTo(BeNil())
		Expect(span.Span()).NotTo(BeNil())
	})
})
