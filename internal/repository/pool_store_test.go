package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryPoolStore(t *testing.T) {
	store := NewInMemoryPoolStore()
	ctx := context.Background()
	failedAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	_ = store.AppendBlocked(ctx, "2025-03-10", domain.BlockedCredential{Hash: "bbbb", Reason: "first", FailedAt: failedAt})
	_ = store.AppendBlocked(ctx, "2025-03-10", domain.BlockedCredential{Hash: "aaaa", Reason: "x", FailedAt: failedAt})
	_ = store.AppendBlocked(ctx, "2025-03-10", domain.BlockedCredential{Hash: "bbbb", Reason: "second", FailedAt: failedAt})

	hashes, err := store.LoadBlocked(ctx, "2025-03-10")
	if err != nil {
		t.Fatalf("LoadBlocked() error = %v", err)
	}
	if len(hashes) != 2 || hashes[0] != "aaaa" || hashes[1] != "bbbb" {
		t.Errorf("LoadBlocked() = %v, want [aaaa bbbb]", hashes)
	}

	entry, ok := store.Entry("2025-03-10", "bbbb")
	if !ok || entry.Reason != "first" {
		t.Errorf("Entry() = %+v, want first reason retained", entry)
	}

	other, _ := store.LoadBlocked(ctx, "2025-03-11")
	if len(other) != 0 {
		t.Errorf("other day = %v, want empty", other)
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisPoolStore_AppendAndLoad(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisPoolStore(client)
	ctx := context.Background()
	failedAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	if err := store.AppendBlocked(ctx, "2025-03-10", domain.BlockedCredential{Hash: "0123456789abcdef", Reason: "usage-limited", FailedAt: failedAt}); err != nil {
		t.Fatalf("AppendBlocked() error = %v", err)
	}
	if err := store.AppendBlocked(ctx, "2025-03-10", domain.BlockedCredential{Hash: "0123456789abcdef", Reason: "later", FailedAt: failedAt.Add(time.Hour)}); err != nil {
		t.Fatalf("AppendBlocked() error = %v", err)
	}

	hashes, err := store.LoadBlocked(ctx, "2025-03-10")
	if err != nil {
		t.Fatalf("LoadBlocked() error = %v", err)
	}
	if len(hashes) != 1 || hashes[0] != "0123456789abcdef" {
		t.Errorf("LoadBlocked() = %v", hashes)
	}

	raw := mr.HGet("pool:blocked:2025-03-10", "0123456789abcdef")
	var stored struct {
		FailedAt time.Time `json:"failedAt"`
		Reason   string    `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("stored value is not JSON: %v", err)
	}
	if stored.Reason != "usage-limited" || !stored.FailedAt.Equal(failedAt) {
		t.Errorf("stored = %+v, want first entry", stored)
	}

	if ttl := mr.TTL("pool:blocked:2025-03-10"); ttl <= 0 {
		t.Errorf("day key TTL = %v, want positive", ttl)
	}
}

func TestRedisPoolStore_EmptyDay(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisPoolStore(client)

	hashes, err := store.LoadBlocked(context.Background(), "2025-01-01")
	if err != nil {
		t.Fatalf("LoadBlocked() error = %v", err)
	}
	if len(hashes) != 0 {
		t.Errorf("LoadBlocked() = %v, want empty", hashes)
	}
}

func TestRedisPoolStore_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisPoolStore(client)
	mr.Close()

	if _, err := store.LoadBlocked(context.Background(), "2025-01-01"); err == nil {
		t.Error("expected error when redis is down")
	}
}
