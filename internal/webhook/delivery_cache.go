package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultCacheCapacity = 1000
	DefaultCacheTTL      = 24 * time.Hour
	DefaultCacheKey      = "ghsync:webhook:delivery"
)

// DeliveryCache remembers processed delivery IDs so redeliveries are skipped.
type DeliveryCache interface {
	Seen(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, id, event string, at time.Time) error
}

type deliveryEntry struct {
	at    time.Time
	event string
}

// MemoryDeliveryCache is a bounded in-process cache. When it grows past its
// capacity the oldest half of the entries is dropped. It is only correct
// for a single receiver process.
type MemoryDeliveryCache struct {
	mu       sync.Mutex
	entries  map[string]deliveryEntry
	order    []string
	capacity int
}

func NewMemoryDeliveryCache(capacity int) *MemoryDeliveryCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &MemoryDeliveryCache{
		entries:  make(map[string]deliveryEntry, capacity),
		capacity: capacity,
	}
}

func (c *MemoryDeliveryCache) Seen(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok, nil
}

func (c *MemoryDeliveryCache) Record(_ context.Context, id, event string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; ok {
		return nil
	}
	c.entries[id] = deliveryEntry{at: at, event: event}
	c.order = append(c.order, id)

	if len(c.order) > c.capacity {
		evict := len(c.order) / 2
		for _, old := range c.order[:evict] {
			delete(c.entries, old)
		}
		c.order = append([]string(nil), c.order[evict:]...)
	}
	return nil
}

func (c *MemoryDeliveryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisDeliveryCache shares delivery IDs across receiver replicas. Entries
// expire after ttl.
type RedisDeliveryCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeliveryCache(client *redis.Client, prefix string, ttl time.Duration) *RedisDeliveryCache {
	if prefix == "" {
		prefix = DefaultCacheKey
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisDeliveryCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisDeliveryCache) key(id string) string {
	return c.prefix + ":" + id
}

func (c *RedisDeliveryCache) Seen(ctx context.Context, id string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("checking delivery %s: %w", id, err)
	}
	return n > 0, nil
}

// Record keeps the first arrival; recording an id again leaves its value and
// TTL unchanged.
func (c *RedisDeliveryCache) Record(ctx context.Context, id, event string, at time.Time) error {
	value := event + "@" + at.UTC().Format(time.RFC3339)
	if err := c.client.SetNX(ctx, c.key(id), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("recording delivery %s: %w", id, err)
	}
	return nil
}
