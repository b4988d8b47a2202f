package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/lib/pq"
)

// SystemConfigSource supplies the gateway-wide credential list.
type SystemConfigSource interface {
	Load(ctx context.Context) (*domain.SystemConfig, error)
}

type StaticSystemConfig struct {
	cfg domain.SystemConfig
}

func NewStaticSystemConfig(credentials []string, dailyFreeLimit int) *StaticSystemConfig {
	return &StaticSystemConfig{cfg: domain.SystemConfig{
		Credentials:    append([]string(nil), credentials...),
		DailyFreeLimit: dailyFreeLimit,
	}}
}

func (s *StaticSystemConfig) Load(ctx context.Context) (*domain.SystemConfig, error) {
	cfg := s.cfg
	cfg.Credentials = append([]string(nil), s.cfg.Credentials...)
	return &cfg, nil
}

// PostgresSystemConfig reads the singleton row of the system_config table.
// A missing row is an empty configuration.
type PostgresSystemConfig struct {
	db *sql.DB
}

func NewPostgresSystemConfig(db *sql.DB) *PostgresSystemConfig {
	return &PostgresSystemConfig{db: db}
}

func (s *PostgresSystemConfig) Load(ctx context.Context) (*domain.SystemConfig, error) {
	var creds pq.StringArray
	var limit sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT system_credentials, daily_free_limit FROM system_config WHERE id = 1`,
	).Scan(&creds, &limit)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.SystemConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query system config: %w", err)
	}

	return &domain.SystemConfig{
		Credentials:    []string(creds),
		DailyFreeLimit: int(limit.Int64),
	}, nil
}

func (s *PostgresSystemConfig) Save(ctx context.Context, cfg *domain.SystemConfig) error {
	query := `
		INSERT INTO system_config (id, system_credentials, daily_free_limit)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET system_credentials = $1, daily_free_limit = $2
	`
	limit := sql.NullInt64{Int64: int64(cfg.DailyFreeLimit), Valid: cfg.DailyFreeLimit > 0}
	if _, err := s.db.ExecContext(ctx, query, pq.Array(cfg.Credentials), limit); err != nil {
		return fmt.Errorf("save system config: %w", err)
	}
	return nil
}

type envFallback struct {
	src  SystemConfigSource
	cred string
}

// WithEnvFallback supplies envCredential as the only system credential when
// src returns none. src may be nil.
func WithEnvFallback(src SystemConfigSource, envCredential string) SystemConfigSource {
	return &envFallback{src: src, cred: envCredential}
}

func (f *envFallback) Load(ctx context.Context) (*domain.SystemConfig, error) {
	cfg := &domain.SystemConfig{}
	if f.src != nil {
		loaded, err := f.src.Load(ctx)
		if err != nil && f.cred == "" {
			return nil, err
		}
		if err == nil {
			cfg = loaded
		}
	}
	if len(cfg.Credentials) == 0 && f.cred != "" {
		cfg.Credentials = []string{f.cred}
	}
	return cfg, nil
}
