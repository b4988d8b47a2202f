// Package cache keeps recently resolved tenants in process memory so that
// the authentication lookup on every request does not hit the tenant store.
// Only the tenant identity and credentials are cached; daily counters are
// always read through the quota counter.
package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/felipepmaragno/puter-gateway/internal/crypto"
	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/metrics"
)

// TenantLookup resolves a gateway API key to its tenant.
type TenantLookup interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Tenant, error)
}

// TenantCache is a read-through TenantLookup backed by ristretto.
type TenantCache struct {
	next  TenantLookup
	cache *ristretto.Cache[string, *domain.Tenant]
	ttl   time.Duration
}

func NewTenantCache(next TenantLookup, ttl time.Duration) (*TenantCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *domain.Tenant]{
		NumCounters:        1e5,
		MaxCost:            1e4,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &TenantCache{next: next, cache: c, ttl: ttl}, nil
}

// key never holds the raw API key.
func key(apiKey string) string {
	return "tenant:" + crypto.HashAPIKey(apiKey)
}

func (c *TenantCache) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Tenant, error) {
	k := key(apiKey)
	if t, ok := c.cache.Get(k); ok {
		metrics.RecordTenantCache(true)
		return clone(t), nil
	}
	metrics.RecordTenantCache(false)

	t, err := c.next.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(k, clone(t), 1, c.ttl)
	return t, nil
}

// Invalidate drops the cached tenant for apiKey.
func (c *TenantCache) Invalidate(apiKey string) {
	c.cache.Del(key(apiKey))
}

// Wait blocks until pending writes are applied.
func (c *TenantCache) Wait() {
	c.cache.Wait()
}

func (c *TenantCache) Close() {
	c.cache.Close()
}

func clone(t *domain.Tenant) *domain.Tenant {
	cp := *t
	cp.Credentials = append([]string(nil), t.Credentials...)
	return &cp
}
