package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

// PostgresUsageRepository is the append-only usage log.
type PostgresUsageRepository struct {
	db *sql.DB
}

func NewPostgresUsageRepository(db *sql.DB) *PostgresUsageRepository {
	return &PostgresUsageRepository{db: db}
}

const insertUsageQuery = `
	INSERT INTO usage_records (tenant_id, request_id, model, provider, prompt_tokens, completion_tokens, total_tokens,
	                           success, error, key_type, stream, latency_ms, usage_date, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

func usageArgs(record domain.UsageRecord) []any {
	return []any{
		record.TenantID,
		record.RequestID,
		record.Model,
		record.Provider,
		record.PromptTokens,
		record.CompletionTokens,
		record.TotalTokens,
		record.Success,
		sql.NullString{String: record.Error, Valid: record.Error != ""},
		string(record.KeyType),
		record.Stream,
		record.LatencyMs,
		record.Date,
		record.Timestamp,
	}
}

func (r *PostgresUsageRepository) Record(ctx context.Context, record domain.UsageRecord) error {
	if _, err := r.db.ExecContext(ctx, insertUsageQuery, usageArgs(record)...); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// RecordBatch appends records in one transaction.
func (r *PostgresUsageRepository) RecordBatch(ctx context.Context, records []domain.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertUsageQuery)
	if err != nil {
		return fmt.Errorf("prepare usage insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx, usageArgs(record)...); err != nil {
			return fmt.Errorf("insert usage record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage batch: %w", err)
	}
	return nil
}

func (r *PostgresUsageRepository) GetTenantUsage(ctx context.Context, tenantID string, since time.Time) ([]domain.UsageRecord, error) {
	query := `
		SELECT tenant_id, request_id, model, provider, prompt_tokens, completion_tokens, total_tokens,
		       success, COALESCE(error, ''), key_type, stream, latency_ms, usage_date, created_at
		FROM usage_records
		WHERE tenant_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		var record domain.UsageRecord
		var keyType string
		err := rows.Scan(
			&record.TenantID,
			&record.RequestID,
			&record.Model,
			&record.Provider,
			&record.PromptTokens,
			&record.CompletionTokens,
			&record.TotalTokens,
			&record.Success,
			&record.Error,
			&keyType,
			&record.Stream,
			&record.LatencyMs,
			&record.Date,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		record.KeyType = domain.KeyType(keyType)
		records = append(records, record)
	}

	return records, rows.Err()
}
