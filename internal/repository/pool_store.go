package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

// InMemoryPoolStore keeps per-day blocked-credential documents in process.
type InMemoryPoolStore struct {
	mu   sync.RWMutex
	days map[string]map[string]domain.BlockedCredential
}

func NewInMemoryPoolStore() *InMemoryPoolStore {
	return &InMemoryPoolStore{days: make(map[string]map[string]domain.BlockedCredential)}
}

func (s *InMemoryPoolStore) LoadBlocked(ctx context.Context, date string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := s.days[date]
	hashes := make([]string, 0, len(doc))
	for h := range doc {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes, nil
}

// AppendBlocked keeps the first entry recorded for a hash on a given day.
func (s *InMemoryPoolStore) AppendBlocked(ctx context.Context, date string, entry domain.BlockedCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.days[date]
	if !ok {
		doc = make(map[string]domain.BlockedCredential)
		s.days[date] = doc
	}
	if _, exists := doc[entry.Hash]; !exists {
		doc[entry.Hash] = entry
	}
	return nil
}

// Entry returns the stored entry for a hash on a given day.
func (s *InMemoryPoolStore) Entry(date, hash string) (domain.BlockedCredential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.days[date][hash]
	return e, ok
}

// appendBlockedScript records a blocked credential in the day hash once and
// keeps the hash alive a little past the end of the day.
// Keys: [day_key]
// Args: [hash, entry_json, ttl_seconds]
// Returns: 1 if the entry was new, 0 otherwise
var appendBlockedScript = redis.NewScript(`
local added = redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
return added
`)

const redisPoolTTL = 48 * time.Hour

// RedisPoolStore shares day blocks between gateway instances. Each day is
// one hash keyed by date whose fields are credential fingerprints.
type RedisPoolStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisPoolStore(client *redis.Client) *RedisPoolStore {
	return &RedisPoolStore{client: client, keyPrefix: "pool:blocked:"}
}

func (s *RedisPoolStore) dayKey(date string) string {
	return s.keyPrefix + date
}

func (s *RedisPoolStore) LoadBlocked(ctx context.Context, date string) ([]string, error) {
	hashes, err := s.client.HKeys(ctx, s.dayKey(date)).Result()
	if err != nil {
		return nil, fmt.Errorf("load blocked credentials: %w", err)
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (s *RedisPoolStore) AppendBlocked(ctx context.Context, date string, entry domain.BlockedCredential) error {
	payload, err := json.Marshal(struct {
		FailedAt time.Time `json:"failedAt"`
		Reason   string    `json:"reason"`
	}{entry.FailedAt, entry.Reason})
	if err != nil {
		return fmt.Errorf("marshal blocked credential: %w", err)
	}

	err = appendBlockedScript.Run(ctx, s.client,
		[]string{s.dayKey(date)},
		entry.Hash, string(payload), int(redisPoolTTL.Seconds()),
	).Err()
	if err != nil {
		return fmt.Errorf("append blocked credential: %w", err)
	}
	return nil
}

// PostgresPoolStore keeps day blocks in the blocked_credentials table.
type PostgresPoolStore struct {
	db *sql.DB
}

func NewPostgresPoolStore(db *sql.DB) *PostgresPoolStore {
	return &PostgresPoolStore{db: db}
}

func (s *PostgresPoolStore) LoadBlocked(ctx context.Context, date string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash FROM blocked_credentials WHERE block_date = $1 ORDER BY hash`, date)
	if err != nil {
		return nil, fmt.Errorf("query blocked credentials: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan blocked credential: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (s *PostgresPoolStore) AppendBlocked(ctx context.Context, date string, entry domain.BlockedCredential) error {
	query := `
		INSERT INTO blocked_credentials (block_date, hash, reason, failed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (block_date, hash) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, date, entry.Hash, entry.Reason, entry.FailedAt); err != nil {
		return fmt.Errorf("insert blocked credential: %w", err)
	}
	return nil
}
