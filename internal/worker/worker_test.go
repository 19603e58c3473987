package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/ghsync/internal/githubapi"
	"basegraph.app/ghsync/internal/queue"
	"basegraph.app/ghsync/internal/service"
	"basegraph.app/ghsync/internal/worker"
)

type fakeConsumer struct {
	mu       sync.Mutex
	batches  [][]queue.Message
	readErr  error
	acked    []string
	requeued []string
	dlq      []string
	reasons  []string
}

func (c *fakeConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	if len(c.batches) == 0 {
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	next := c.batches[0]
	c.batches = c.batches[1:]
	return next, nil
}

func (c *fakeConsumer) Ack(_ context.Context, msg queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msg.ID)
	return nil
}

func (c *fakeConsumer) Requeue(_ context.Context, msg queue.Message, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requeued = append(c.requeued, msg.ID)
	c.reasons = append(c.reasons, errMsg)
	return nil
}

func (c *fakeConsumer) SendDLQ(_ context.Context, msg queue.Message, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dlq = append(c.dlq, msg.ID)
	c.reasons = append(c.reasons, errMsg)
	return nil
}

func (c *fakeConsumer) ackedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.acked...)
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls []service.SyncOptions
	repos []int64
	fn    func(repositoryID int64) (*service.SyncResult, error)
}

func (s *fakeSyncer) Sync(_ context.Context, repositoryID int64, opts service.SyncOptions) (*service.SyncResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, opts)
	s.repos = append(s.repos, repositoryID)
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		return fn(repositoryID)
	}
	return &service.SyncResult{Processed: 1}, nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []queue.Trigger
	err   error
}

func (e *fakeEnqueuer) EnqueueEnabled(_ context.Context, trigger queue.Trigger) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, trigger)
	return 2, e.err
}

func (e *fakeEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func message(id string, repositoryID int64, attempt int) queue.Message {
	return queue.Message{
		ID:           id,
		TaskType:     queue.TaskTypeIssueSync,
		RepositoryID: repositoryID,
		Trigger:      queue.TriggerSchedule,
		Attempt:      attempt,
	}
}

var _ = Describe("Worker", func() {
	var (
		ctx      context.Context
		consumer *fakeConsumer
		syncer   *fakeSyncer
		w        *worker.Worker
	)

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &fakeConsumer{}
		syncer = &fakeSyncer{}
		w = worker.New(consumer, syncer, worker.Config{MaxAttempts: 3, BatchSize: 50})
	})

	It("runs the sync and acks", func() {
		msg := message("1-0", 10, 1)
		msg.FullSync = true

		Expect(w.Handle(ctx, msg)).To(Succeed())

		Expect(syncer.repos).To(Equal([]int64{10}))
		Expect(syncer.calls[0]).To(Equal(service.SyncOptions{Full: true, BatchSize: 50}))
		Expect(consumer.acked).To(Equal([]string{"1-0"}))
		Expect(consumer.requeued).To(BeEmpty())
	})

	DescribeTable("acks without retry when the sync cannot run",
		func(err error) {
			syncer.fn = func(int64) (*service.SyncResult, error) { return nil, err }

			Expect(w.Handle(ctx, message("1-0", 10, 1))).To(Succeed())

			Expect(consumer.acked).To(Equal([]string{"1-0"}))
			Expect(consumer.requeued).To(BeEmpty())
			Expect(consumer.dlq).To(BeEmpty())
		},
		Entry("sync in progress", service.ErrSyncInProgress),
		Entry("repository removed", service.ErrRepositoryNotFound),
		Entry("repository disabled", fmt.Errorf("wrapped: %w", service.ErrRepositoryDisabled)),
	)

	It("requeues failures while attempts remain", func() {
		syncer.fn = func(int64) (*service.SyncResult, error) { return nil, errors.New("bad gateway") }

		Expect(w.Handle(ctx, message("1-0", 10, 2))).To(Succeed())

		Expect(consumer.requeued).To(Equal([]string{"1-0"}))
		Expect(consumer.reasons).To(Equal([]string{"bad gateway"}))
		Expect(consumer.acked).To(BeEmpty())
	})

	It("sends the message to the DLQ on the last attempt", func() {
		syncer.fn = func(int64) (*service.SyncResult, error) { return nil, errors.New("bad gateway") }

		Expect(w.Handle(ctx, message("1-0", 10, 3))).To(Succeed())

		Expect(consumer.dlq).To(Equal([]string{"1-0"}))
		Expect(consumer.requeued).To(BeEmpty())
	})

	It("does not retry authentication failures", func() {
		syncer.fn = func(int64) (*service.SyncResult, error) {
			return nil, &githubapi.APIError{Type: githubapi.ErrorTypeAuth, StatusCode: 401, Message: "Bad credentials", Attempts: 1}
		}

		Expect(w.Handle(ctx, message("1-0", 10, 1))).To(Succeed())

		Expect(consumer.dlq).To(Equal([]string{"1-0"}))
	})

	It("recovers panics and requeues", func() {
		syncer.fn = func(int64) (*service.SyncResult, error) { panic("boom") }

		Expect(w.Handle(ctx, message("1-0", 10, 1))).To(Succeed())

		Expect(consumer.requeued).To(Equal([]string{"1-0"}))
		Expect(consumer.reasons[0]).To(ContainSubstring("boom"))
	})

	It("drains batches until stopped", func() {
		consumer.batches = [][]queue.Message{
			{message("1-0", 10, 1), message("2-0", 11, 1)},
			{message("3-0", 12, 1)},
		}

		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		Eventually(consumer.ackedIDs).Should(Equal([]string{"1-0", "2-0", "3-0"}))
		w.Stop()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("returns when the context is cancelled", func() {
		consumer.readErr = errors.New("connection refused")
		w = worker.New(consumer, syncer, worker.Config{MaxAttempts: 3, ErrorBackoff: 10 * time.Millisecond})
		runCtx, cancel := context.WithCancel(ctx)

		done := make(chan error, 1)
		go func() { done <- w.Run(runCtx) }()
		cancel()

		Eventually(done).Should(Receive(MatchError(context.Canceled)))
		Expect(syncer.repos).To(BeEmpty())
	})
})

var _ = Describe("Scheduler", func() {
	It("enqueues immediately and then on every tick", func() {
		enqueuer := &fakeEnqueuer{}
		s := worker.NewScheduler(enqueuer, 20*time.Millisecond)

		go s.Run(context.Background())

		Eventually(enqueuer.count).Should(BeNumerically(">=", 3))
		s.Stop()

		enqueuer.mu.Lock()
		defer enqueuer.mu.Unlock()
		for _, trigger := range enqueuer.calls {
			Expect(trigger).To(Equal(queue.TriggerSchedule))
		}
	})

	It("keeps ticking after a failed round", func() {
		enqueuer := &fakeEnqueuer{err: errors.New("redis down")}
		s := worker.NewScheduler(enqueuer, 20*time.Millisecond)

		go s.Run(context.Background())

		Eventually(enqueuer.count).Should(BeNumerically(">=", 2))
		s.Stop()
	})
})
