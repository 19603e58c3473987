package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/store"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MemorySyncStatusStore", func() {
	var (
		ctx context.Context
		s   *store.MemorySyncStatusStore
		now time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		s = store.NewMemorySyncStatusStore(time.Hour).WithClock(func() time.Time { return now })
	})

	It("returns defaults for an unknown repository", func() {
		st, err := s.GetStatus(ctx, 42)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.RepositoryID).To(Equal(int64(42)))
		Expect(st.InProgress).To(BeFalse())
		Expect(st.LastCursor).To(BeNil())
		Expect(st.LastSyncAt).To(BeNil())
	})

	It("lets exactly one concurrent caller begin", func() {
		var (
			wg      sync.WaitGroup
			winners atomic.Int32
		)
		start := make(chan struct{})
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				<-start
				ok, err := s.TryBeginSync(ctx, 7, int64(i+1))
				Expect(err).NotTo(HaveOccurred())
				if ok {
					winners.Add(1)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		Expect(winners.Load()).To(Equal(int32(1)))
	})

	It("does not block other repositories", func() {
		Expect(s.TryBeginSync(ctx, 1, 100)).To(BeTrue())
		Expect(s.TryBeginSync(ctx, 2, 101)).To(BeTrue())
		Expect(s.TryBeginSync(ctx, 1, 102)).To(BeFalse())
	})

	It("records the cursor on completion", func() {
		Expect(s.TryBeginSync(ctx, 1, 100)).To(BeTrue())
		cursor := "2025-03-01T11:00:00Z"
		Expect(s.CompleteSync(ctx, 1, 100, &cursor, now)).To(Succeed())

		st, err := s.GetStatus(ctx, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.InProgress).To(BeFalse())
		Expect(*st.LastCursor).To(Equal(cursor))
		Expect(*st.LastSyncAt).To(Equal(now))
		Expect(*st.LastOutcome).To(Equal(model.SyncOutcomeCompleted))
		Expect(st.RunID).To(BeNil())

		Expect(s.TryBeginSync(ctx, 1, 101)).To(BeTrue())
	})

	It("keeps the previous cursor when none is given", func() {
		Expect(s.TryBeginSync(ctx, 1, 100)).To(BeTrue())
		cursor := "2025-03-01T11:00:00Z"
		Expect(s.CompleteSync(ctx, 1, 100, &cursor, now)).To(Succeed())
		Expect(s.TryBeginSync(ctx, 1, 101)).To(BeTrue())
		Expect(s.CompleteSync(ctx, 1, 101, nil, now)).To(Succeed())

		st, _ := s.GetStatus(ctx, 1)
		Expect(*st.LastCursor).To(Equal(cursor))
	})

	It("clears the flag on failure and keeps the reason", func() {
		Expect(s.TryBeginSync(ctx, 1, 100)).To(BeTrue())
		Expect(s.FailSync(ctx, 1, 100, "boom")).To(Succeed())

		st, _ := s.GetStatus(ctx, 1)
		Expect(st.InProgress).To(BeFalse())
		Expect(*st.LastError).To(Equal("boom"))
		Expect(*st.LastOutcome).To(Equal(model.SyncOutcomeFailed))
		Expect(s.TryBeginSync(ctx, 1, 101)).To(BeTrue())
	})

	It("reclaims a stale sync", func() {
		Expect(s.TryBeginSync(ctx, 1, 100)).To(BeTrue())
		now = now.Add(30 * time.Minute)
		Expect(s.TryBeginSync(ctx, 1, 101)).To(BeFalse())

		now = now.Add(31 * time.Minute)
		st, _ := s.GetStatus(ctx, 1)
		Expect(st.InProgress).To(BeFalse())
		Expect(s.TryBeginSync(ctx, 1, 102)).To(BeTrue())
	})

	Describe("after a stale sync is reclaimed", func() {
		BeforeEach(func() {
			Expect(s.TryBeginSync(ctx, 1, 100)).To(BeTrue())
			now = now.Add(61 * time.Minute)
			Expect(s.TryBeginSync(ctx, 1, 200)).To(BeTrue())
		})

		It("ignores completion from the reclaimed run", func() {
			cursor := "2025-03-01T11:00:00Z"
			Expect(s.CompleteSync(ctx, 1, 100, &cursor, now)).To(MatchError(store.ErrSyncNotOwned))

			st, _ := s.GetStatus(ctx, 1)
			Expect(st.InProgress).To(BeTrue())
			Expect(st.RunID).To(HaveValue(Equal(int64(200))))
			Expect(st.LastCursor).To(BeNil())
			Expect(st.LastOutcome).To(BeNil())

			Expect(s.TryBeginSync(ctx, 1, 300)).To(BeFalse())
		})

		It("ignores failure from the reclaimed run", func() {
			Expect(s.FailSync(ctx, 1, 100, "late")).To(MatchError(store.ErrSyncNotOwned))

			st, _ := s.GetStatus(ctx, 1)
			Expect(st.InProgress).To(BeTrue())
			Expect(st.LastError).To(BeNil())
			Expect(s.TryBeginSync(ctx, 1, 300)).To(BeFalse())
		})

		It("lets the new owner finish", func() {
			Expect(s.CompleteSync(ctx, 1, 200, nil, now)).To(Succeed())
			Expect(s.TryBeginSync(ctx, 1, 300)).To(BeTrue())
		})
	})

	It("refuses to end a sync that never started", func() {
		Expect(s.CompleteSync(ctx, 5, 100, nil, now)).To(MatchError(store.ErrSyncNotOwned))
		Expect(s.FailSync(ctx, 5, 100, "boom")).To(MatchError(store.ErrSyncNotOwned))
	})
})
