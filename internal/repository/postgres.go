package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/crypto"
	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/lib/pq"
)

// PostgresTenantRepository stores tenants in the tenants table. When an
// encryptor is set, tenant-owned credentials are sealed at rest.
type PostgresTenantRepository struct {
	db  *sql.DB
	enc *crypto.Encryptor
}

func NewPostgresTenantRepository(db *sql.DB, enc *crypto.Encryptor) *PostgresTenantRepository {
	return &PostgresTenantRepository{db: db, enc: enc}
}

const tenantColumns = `id, name, api_key_hash, credentials, daily_requests_used, last_request_date,
       total_prompt_tokens, total_completion_tokens, total_requests, enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresTenantRepository) scanTenant(row rowScanner) (*domain.Tenant, error) {
	var tenant domain.Tenant
	var credentials pq.StringArray
	var lastDate sql.NullString

	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.APIKeyHash,
		&credentials,
		&tenant.DailyRequestsUsed,
		&lastDate,
		&tenant.TotalPromptTokens,
		&tenant.TotalCompletionTokens,
		&tenant.TotalRequests,
		&tenant.Enabled,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tenant.LastRequestDate = lastDate.String
	tenant.Credentials = []string(credentials)
	if r.enc != nil && len(tenant.Credentials) > 0 {
		plain, err := r.enc.DecryptAll(tenant.Credentials)
		if err != nil {
			return nil, fmt.Errorf("decrypt credentials for tenant %s: %w", tenant.ID, err)
		}
		tenant.Credentials = plain
	}

	return &tenant, nil
}

func (r *PostgresTenantRepository) sealCredentials(creds []string) ([]string, error) {
	if creds == nil {
		creds = []string{}
	}
	if r.enc == nil {
		return creds, nil
	}
	return r.enc.EncryptAll(creds)
}

func (r *PostgresTenantRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE api_key_hash = $1 AND enabled = true`

	tenant, err := r.scanTenant(r.db.QueryRowContext(ctx, query, crypto.HashAPIKey(apiKey)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant: %w", err)
	}

	return tenant, nil
}

func (r *PostgresTenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	tenant, err := r.scanTenant(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant: %w", err)
	}

	return tenant, nil
}

func (r *PostgresTenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		tenant, err := r.scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}

	return tenants, rows.Err()
}

func (r *PostgresTenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	sealed, err := r.sealCredentials(tenant.Credentials)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	query := `
		INSERT INTO tenants (id, name, api_key_hash, credentials, daily_requests_used, last_request_date,
		                     total_prompt_tokens, total_completion_tokens, total_requests, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.APIKeyHash,
		pq.Array(sealed),
		tenant.DailyRequestsUsed,
		sql.NullString{String: tenant.LastRequestDate, Valid: tenant.LastRequestDate != ""},
		tenant.TotalPromptTokens,
		tenant.TotalCompletionTokens,
		tenant.TotalRequests,
		tenant.Enabled,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}

	return nil
}

// Update writes the tenant's descriptive fields. Counters are only changed
// through the counter methods.
func (r *PostgresTenantRepository) Update(ctx context.Context, tenant *domain.Tenant) error {
	sealed, err := r.sealCredentials(tenant.Credentials)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	query := `
		UPDATE tenants
		SET name = $2, api_key_hash = $3, credentials = $4, enabled = $5, updated_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.APIKeyHash,
		pq.Array(sealed),
		tenant.Enabled,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrTenantNotFound
	}

	return nil
}

func (r *PostgresTenantRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrTenantNotFound
	}

	return nil
}

func (r *PostgresTenantRepository) GetDailyUsage(ctx context.Context, tenantID, date string) (int, error) {
	query := `
		SELECT CASE WHEN last_request_date = $2 THEN daily_requests_used ELSE 0 END
		FROM tenants
		WHERE id = $1
	`

	var used int
	err := r.db.QueryRowContext(ctx, query, tenantID, date).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrTenantNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query daily usage: %w", err)
	}

	return used, nil
}

// IncrementDailyUsage bumps the counter in a single conditional statement.
// A stored date other than date resets the counter to 1. When no row is
// updated the tenant is either missing or already at limit.
func (r *PostgresTenantRepository) IncrementDailyUsage(ctx context.Context, tenantID, date string, limit int) (int, bool, error) {
	query := `
		UPDATE tenants
		SET daily_requests_used = CASE WHEN last_request_date = $2 THEN daily_requests_used + 1 ELSE 1 END,
		    last_request_date = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND CASE WHEN last_request_date = $2 THEN daily_requests_used ELSE 0 END < $3
		RETURNING daily_requests_used
	`

	var used int
	err := r.db.QueryRowContext(ctx, query, tenantID, date, limit).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		used, err := r.GetDailyUsage(ctx, tenantID, date)
		if err != nil {
			return 0, false, err
		}
		return used, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("increment daily usage: %w", err)
	}

	return used, true, nil
}

func (r *PostgresTenantRepository) AddTokenUsage(ctx context.Context, tenantID string, promptTokens, completionTokens int) error {
	query := `
		UPDATE tenants
		SET total_prompt_tokens = total_prompt_tokens + $2,
		    total_completion_tokens = total_completion_tokens + $3,
		    total_requests = total_requests + 1
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, tenantID, promptTokens, completionTokens)
	if err != nil {
		return fmt.Errorf("add token usage: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrTenantNotFound
	}

	return nil
}
