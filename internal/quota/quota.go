// Package quota enforces the free-tier daily request allowance.
// Tenants that bring their own upstream credentials are never counted.
// Counters are keyed by tenant and UTC calendar date, so a new day starts
// from zero without any reset job.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/metrics"
	"github.com/felipepmaragno/puter-gateway/internal/repository"
)

// DefaultFreeDailyLimit is the free-tier allowance per tenant and day.
const DefaultFreeDailyLimit = 15

// Counter is a per-tenant, per-date request counter. Increment must be
// atomic: it adds one only while the counter is below limit and reports
// whether it did.
type Counter interface {
	Used(ctx context.Context, tenantID, date string) (int, error)
	Increment(ctx context.Context, tenantID, date string, limit int) (int, bool, error)
}

// RepositoryCounter keeps the counter on the tenant record.
type RepositoryCounter struct {
	store repository.CounterStore
}

func NewRepositoryCounter(store repository.CounterStore) *RepositoryCounter {
	return &RepositoryCounter{store: store}
}

func (c *RepositoryCounter) Used(ctx context.Context, tenantID, date string) (int, error) {
	return c.store.GetDailyUsage(ctx, tenantID, date)
}

func (c *RepositoryCounter) Increment(ctx context.Context, tenantID, date string, limit int) (int, bool, error) {
	return c.store.IncrementDailyUsage(ctx, tenantID, date, limit)
}

type Limiter struct {
	counter Counter
	now     func() time.Time
}

func NewLimiter(counter Counter) *Limiter {
	return &Limiter{counter: counter, now: time.Now}
}

// WithClock replaces the limiter's time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check returns the tenant's usage for today. It returns a
// *domain.DailyLimitError when used >= limit.
func (l *Limiter) Check(ctx context.Context, tenantID string, limit int) (int, error) {
	used, err := l.counter.Used(ctx, tenantID, domain.Today(l.now()))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrQuotaUnavailable, err)
	}
	if used >= limit {
		metrics.RecordQuotaRejection()
		return used, &domain.DailyLimitError{Used: used, Limit: limit}
	}
	return used, nil
}

// Consume counts one request against today's allowance. Concurrent
// requests that all passed Check are admitted only while the counter is
// below limit; the rest get a *domain.DailyLimitError and leave the counter
// unchanged.
func (l *Limiter) Consume(ctx context.Context, tenantID string, limit int) (int, error) {
	used, ok, err := l.counter.Increment(ctx, tenantID, domain.Today(l.now()), limit)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrQuotaUnavailable, err)
	}
	if !ok {
		metrics.RecordQuotaRejection()
		return used, &domain.DailyLimitError{Used: used, Limit: limit}
	}
	return used, nil
}
