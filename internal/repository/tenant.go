package repository

import (
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/crypto"
	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

type TenantRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Tenant, error)
	GetByID(ctx context.Context, id string) (*domain.Tenant, error)
	Create(ctx context.Context, tenant *domain.Tenant) error
	Update(ctx context.Context, tenant *domain.Tenant) error
}

// CounterStore holds the per-tenant daily request counter and lifetime
// token totals. Counters for a date other than the stored one read as zero.
//
// IncrementDailyUsage adds one to the counter only while it is below limit.
// It reports the resulting value and whether the increment happened; a
// counter already at limit is left untouched.
type CounterStore interface {
	GetDailyUsage(ctx context.Context, tenantID, date string) (int, error)
	IncrementDailyUsage(ctx context.Context, tenantID, date string, limit int) (int, bool, error)
	AddTokenUsage(ctx context.Context, tenantID string, promptTokens, completionTokens int) error
}

const (
	DefaultTenantID     = "default"
	DefaultTenantAPIKey = "gw-default-key"
)

type InMemoryTenantRepository struct {
	mu      sync.RWMutex
	tenants map[string]*domain.Tenant
	byKey   map[string]string
}

// NewInMemoryTenantRepository returns a repository seeded with a free-tier
// default tenant reachable with DefaultTenantAPIKey.
func NewInMemoryTenantRepository() *InMemoryTenantRepository {
	repo := &InMemoryTenantRepository{
		tenants: make(map[string]*domain.Tenant),
		byKey:   make(map[string]string),
	}

	now := time.Now()
	defaultTenant := &domain.Tenant{
		ID:         DefaultTenantID,
		Name:       "default",
		APIKeyHash: crypto.HashAPIKey(DefaultTenantAPIKey),
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	repo.tenants[defaultTenant.ID] = defaultTenant
	repo.byKey[defaultTenant.APIKeyHash] = defaultTenant.ID

	return repo
}

func (r *InMemoryTenantRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenantID, ok := r.byKey[crypto.HashAPIKey(apiKey)]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}

	tenant, ok := r.tenants[tenantID]
	if !ok || !tenant.Enabled {
		return nil, domain.ErrTenantNotFound
	}

	return cloneTenant(tenant), nil
}

func (r *InMemoryTenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.tenants[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}

	return cloneTenant(tenant), nil
}

func (r *InMemoryTenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cloneTenant(tenant)
	r.tenants[stored.ID] = stored
	r.byKey[stored.APIKeyHash] = stored.ID

	return nil
}

func (r *InMemoryTenantRepository) Update(ctx context.Context, tenant *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.tenants[tenant.ID]
	if !ok {
		return domain.ErrTenantNotFound
	}

	tenant.UpdatedAt = time.Now()
	if old.APIKeyHash != tenant.APIKeyHash {
		delete(r.byKey, old.APIKeyHash)
		r.byKey[tenant.APIKeyHash] = tenant.ID
	}
	r.tenants[tenant.ID] = cloneTenant(tenant)

	return nil
}

func (r *InMemoryTenantRepository) GetDailyUsage(ctx context.Context, tenantID, date string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.tenants[tenantID]
	if !ok {
		return 0, domain.ErrTenantNotFound
	}
	if tenant.LastRequestDate != date {
		return 0, nil
	}
	return tenant.DailyRequestsUsed, nil
}

func (r *InMemoryTenantRepository) IncrementDailyUsage(ctx context.Context, tenantID, date string, limit int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenant, ok := r.tenants[tenantID]
	if !ok {
		return 0, false, domain.ErrTenantNotFound
	}
	used := tenant.DailyRequestsUsed
	if tenant.LastRequestDate != date {
		used = 0
	}
	if used >= limit {
		return used, false, nil
	}
	tenant.DailyRequestsUsed = used + 1
	tenant.LastRequestDate = date
	return tenant.DailyRequestsUsed, true, nil
}

func (r *InMemoryTenantRepository) AddTokenUsage(ctx context.Context, tenantID string, promptTokens, completionTokens int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenant, ok := r.tenants[tenantID]
	if !ok {
		return domain.ErrTenantNotFound
	}
	tenant.TotalPromptTokens += int64(promptTokens)
	tenant.TotalCompletionTokens += int64(completionTokens)
	tenant.TotalRequests++
	return nil
}

func cloneTenant(t *domain.Tenant) *domain.Tenant {
	c := *t
	if t.Credentials != nil {
		c.Credentials = append([]string(nil), t.Credentials...)
	}
	return &c
}
