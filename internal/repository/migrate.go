package repository

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		api_key_hash TEXT NOT NULL UNIQUE,
		credentials TEXT[] NOT NULL DEFAULT '{}',
		daily_requests_used INTEGER NOT NULL DEFAULT 0,
		last_request_date TEXT,
		total_prompt_tokens BIGINT NOT NULL DEFAULT 0,
		total_completion_tokens BIGINT NOT NULL DEFAULT 0,
		total_requests BIGINT NOT NULL DEFAULT 0,
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id BIGSERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		request_id TEXT NOT NULL,
		model TEXT NOT NULL,
		provider TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL,
		error TEXT,
		key_type TEXT NOT NULL,
		stream BOOLEAN NOT NULL DEFAULT false,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		usage_date TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS usage_records_tenant_created_idx ON usage_records (tenant_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS blocked_credentials (
		block_date TEXT NOT NULL,
		hash TEXT NOT NULL,
		reason TEXT NOT NULL,
		failed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (block_date, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS system_config (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		system_credentials TEXT[] NOT NULL DEFAULT '{}',
		daily_free_limit INTEGER
	)`,
}

// Migrate creates the gateway tables when they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
