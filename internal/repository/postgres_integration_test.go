//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/crypto"
	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/repository"
	_ "github.com/lib/pq"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	if err := repository.Migrate(context.Background(), db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return db
}

func newTenant(prefix string) *domain.Tenant {
	id := prefix + "-" + time.Now().Format("20060102150405.000000")
	return &domain.Tenant{
		ID:          id,
		Name:        "Test Tenant",
		APIKeyHash:  crypto.HashAPIKey("sk-" + id),
		Credentials: []string{"tenant-cred-1", "tenant-cred-2"},
		Enabled:     true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func TestPostgresTenantRepository_CRUD(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	enc, _ := crypto.NewEncryptor("integration-key")
	repo := repository.NewPostgresTenantRepository(db, enc)
	ctx := context.Background()

	tenant := newTenant("crud")
	if err := repo.Create(ctx, tenant); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.GetByAPIKey(ctx, "sk-"+tenant.ID)
	if err != nil {
		t.Fatalf("GetByAPIKey failed: %v", err)
	}
	if len(got.Credentials) != 2 || got.Credentials[0] != "tenant-cred-1" {
		t.Errorf("credentials = %v, want decrypted originals", got.Credentials)
	}

	var raw []byte
	_ = db.QueryRowContext(ctx, `SELECT credentials::text FROM tenants WHERE id = $1`, tenant.ID).Scan(&raw)
	if string(raw) == "" || strings.Contains(string(raw), "tenant-cred-1") {
		t.Error("credentials should be encrypted at rest")
	}

	tenant.Name = "Updated Tenant"
	if err := repo.Update(ctx, tenant); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err = repo.GetByID(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("GetByID after update failed: %v", err)
	}
	if got.Name != "Updated Tenant" {
		t.Errorf("expected updated name, got %s", got.Name)
	}

	tenants, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	found := false
	for _, ten := range tenants {
		if ten.ID == tenant.ID {
			found = true
			break
		}
	}
	if !found {
		t.Error("tenant not found in list")
	}

	if err := repo.Delete(ctx, tenant.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err = repo.GetByID(ctx, tenant.ID)
	if !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("expected ErrTenantNotFound after delete, got %v", err)
	}
}

func TestPostgresTenantRepository_DailyCounter(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	repo := repository.NewPostgresTenantRepository(db, nil)
	ctx := context.Background()

	tenant := newTenant("counter")
	tenant.Credentials = nil
	if err := repo.Create(ctx, tenant); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer repo.Delete(ctx, tenant.ID)

	for want := 1; want <= 3; want++ {
		got, ok, err := repo.IncrementDailyUsage(ctx, tenant.ID, "2025-03-10", 3)
		if err != nil {
			t.Fatalf("IncrementDailyUsage failed: %v", err)
		}
		if got != want || !ok {
			t.Errorf("IncrementDailyUsage = %d, %v, want %d, true", got, ok, want)
		}
	}
	if got, ok, err := repo.IncrementDailyUsage(ctx, tenant.ID, "2025-03-10", 3); err != nil || ok || got != 3 {
		t.Errorf("IncrementDailyUsage at limit = %d, %v, %v, want 3, false, nil", got, ok, err)
	}

	if used, _ := repo.GetDailyUsage(ctx, tenant.ID, "2025-03-11"); used != 0 {
		t.Errorf("next day usage = %d, want 0", used)
	}
	if got, _, _ := repo.IncrementDailyUsage(ctx, tenant.ID, "2025-03-11", 3); got != 1 {
		t.Errorf("rollover increment = %d, want 1", got)
	}
	if _, _, err := repo.IncrementDailyUsage(ctx, "missing", "2025-03-11", 3); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("missing tenant error = %v, want ErrTenantNotFound", err)
	}

	if err := repo.AddTokenUsage(ctx, tenant.ID, 10, 20); err != nil {
		t.Fatalf("AddTokenUsage failed: %v", err)
	}
	got, _ := repo.GetByID(ctx, tenant.ID)
	if got.TotalPromptTokens != 10 || got.TotalCompletionTokens != 20 || got.TotalRequests != 1 {
		t.Errorf("totals = %+v", got)
	}
}

func TestPostgresUsageRepository_Record(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	usageRepo := repository.NewPostgresUsageRepository(db)
	ctx := context.Background()
	tenantID := "usage-" + time.Now().Format("20060102150405.000000")
	now := time.Now().UTC()

	records := []domain.UsageRecord{
		{TenantID: tenantID, RequestID: "req-1", Model: "gpt-4o-mini", Provider: "openai", PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3, Success: true, KeyType: domain.KeyTypeSystem, Timestamp: now, Date: domain.Today(now)},
		{TenantID: tenantID, RequestID: "req-2", Model: "gpt-4o-mini", Provider: "openai", Success: false, Error: "boom", KeyType: domain.KeyTypeSystem, Timestamp: now, Date: domain.Today(now)},
	}

	if err := usageRepo.Record(ctx, records[0]); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := usageRepo.RecordBatch(ctx, records[1:]); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}

	got, err := usageRepo.GetTenantUsage(ctx, tenantID, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetTenantUsage failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 usage records, got %d", len(got))
	}
}

func TestPostgresPoolStore(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store := repository.NewPostgresPoolStore(db)
	ctx := context.Background()
	date := "1999-" + time.Now().Format("01-02")
	entry := domain.BlockedCredential{Hash: crypto.Fingerprint(time.Now().String()), Reason: "usage-limited", FailedAt: time.Now()}

	if err := store.AppendBlocked(ctx, date, entry); err != nil {
		t.Fatalf("AppendBlocked failed: %v", err)
	}
	if err := store.AppendBlocked(ctx, date, entry); err != nil {
		t.Fatalf("duplicate AppendBlocked failed: %v", err)
	}

	hashes, err := store.LoadBlocked(ctx, date)
	if err != nil {
		t.Fatalf("LoadBlocked failed: %v", err)
	}
	found := 0
	for _, h := range hashes {
		if h == entry.Hash {
			found++
		}
	}
	if found != 1 {
		t.Errorf("entry found %d times, want 1", found)
	}
}

func TestPostgresSystemConfig(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	src := repository.NewPostgresSystemConfig(db)
	ctx := context.Background()

	if err := src.Save(ctx, &domain.SystemConfig{Credentials: []string{"s1", "s2"}, DailyFreeLimit: 20}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg, err := src.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Credentials) != 2 || cfg.DailyFreeLimit != 20 {
		t.Errorf("Load() = %+v", cfg)
	}
}
