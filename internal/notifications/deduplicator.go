package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator reports whether a notification key is new. Only the first
// caller for a key, on any instance, gets true.
type Deduplicator interface {
	ShouldNotify(ctx context.Context, key string) bool
}

// InMemoryDeduplicator is suitable for single-instance deployments.
type InMemoryDeduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewInMemoryDeduplicator() *InMemoryDeduplicator {
	return &InMemoryDeduplicator{seen: make(map[string]struct{})}
}

func (d *InMemoryDeduplicator) ShouldNotify(ctx context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// RedisDeduplicator shares deduplication state across gateway instances.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduplicator creates a deduplicator whose keys expire after ttl.
// Keys embed the date, so a ttl just over a day is enough.
func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func (d *RedisDeduplicator) ShouldNotify(ctx context.Context, key string) bool {
	acquired, err := d.client.SetNX(ctx, "notify:"+key, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		// fail open
		slog.Warn("notification dedup unavailable", "error", err)
		return true
	}
	return acquired
}
