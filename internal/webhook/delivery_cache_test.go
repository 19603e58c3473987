package webhook_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"basegraph.app/ghsync/internal/webhook"
)

var _ = Describe("MemoryDeliveryCache", func() {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	It("reports recorded ids as seen", func() {
		cache := webhook.NewMemoryDeliveryCache(4)
		Expect(cache.Record(ctx, "a", "issues", now)).To(Succeed())

		seen, err := cache.Seen(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeTrue())

		seen, err = cache.Seen(ctx, "b")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeFalse())
	})

	It("evicts the oldest half once capacity is exceeded", func() {
		cache := webhook.NewMemoryDeliveryCache(4)
		for i := range 5 {
			Expect(cache.Record(ctx, fmt.Sprintf("d-%d", i), "issues", now)).To(Succeed())
		}

		Expect(cache.Len()).To(Equal(3))
		for _, id := range []string{"d-0", "d-1"} {
			seen, _ := cache.Seen(ctx, id)
			Expect(seen).To(BeFalse(), id)
		}
		for _, id := range []string{"d-2", "d-3", "d-4"} {
			seen, _ := cache.Seen(ctx, id)
			Expect(seen).To(BeTrue(), id)
		}
	})

	It("ignores repeated records of the same id", func() {
		cache := webhook.NewMemoryDeliveryCache(4)
		for range 3 {
			Expect(cache.Record(ctx, "a", "issues", now)).To(Succeed())
		}
		Expect(cache.Len()).To(Equal(1))
	})

	It("falls back to the default capacity", func() {
		cache := webhook.NewMemoryDeliveryCache(0)
		for i := range webhook.DefaultCacheCapacity {
			Expect(cache.Record(ctx, fmt.Sprintf("d-%d", i), "issues", now)).To(Succeed())
		}
		Expect(cache.Len()).To(Equal(webhook.DefaultCacheCapacity))
	})
})

// keyspaceHook answers SET NX and EXISTS from a map instead of a server.
type keyspaceHook struct {
	mu   sync.Mutex
	keys map[string]any
	cmds [][]any
}

func (h *keyspaceHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *keyspaceHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *keyspaceHook) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()

		args := cmd.Args()
		h.cmds = append(h.cmds, args)
		key, _ := args[1].(string)
		_, exists := h.keys[key]
		switch c := cmd.(type) {
		case *redis.BoolCmd:
			if !exists {
				h.keys[key] = args[2]
			}
			c.SetVal(!exists)
		case *redis.IntCmd:
			if exists {
				c.SetVal(1)
			}
		}
		return nil
	}
}

var _ = Describe("RedisDeliveryCache", func() {
	var (
		ctx    context.Context
		hook   *keyspaceHook
		client *redis.Client
		cache  *webhook.RedisDeliveryCache
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		hook = &keyspaceHook{keys: map[string]any{}}
		client = redis.NewClient(&redis.Options{Addr: "localhost:0"})
		client.AddHook(hook)
		cache = webhook.NewRedisDeliveryCache(client, "", time.Hour)
	})

	AfterEach(func() {
		Expect(client.Close()).To(Succeed())
	})

	It("records a delivery only if it is absent", func() {
		Expect(cache.Record(ctx, "d-1", "issues", now)).To(Succeed())

		Expect(hook.cmds).To(HaveLen(1))
		Expect(hook.cmds[0]).To(Equal([]any{
			"set", "ghsync:webhook:delivery:d-1", "issues@2024-05-01T12:00:00Z", "ex", int64(3600), "nx",
		}))
	})

	It("keeps the first arrival when an id is recorded again", func() {
		Expect(cache.Record(ctx, "d-1", "issues", now)).To(Succeed())
		Expect(cache.Record(ctx, "d-1", "issue_comment", now.Add(time.Minute))).To(Succeed())

		Expect(hook.keys).To(HaveKeyWithValue("ghsync:webhook:delivery:d-1", "issues@2024-05-01T12:00:00Z"))
	})

	It("reports recorded ids as seen", func() {
		seen, err := cache.Seen(ctx, "d-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeFalse())

		Expect(cache.Record(ctx, "d-1", "issues", now)).To(Succeed())

		seen, err = cache.Seen(ctx, "d-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeTrue())
	})
})
