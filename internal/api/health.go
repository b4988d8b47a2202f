package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/repository"
	"github.com/redis/go-redis/v9"
)

var errNoSystemCredentials = errors.New("no system credentials configured")

// HealthChecker is a readiness dependency.
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (f HealthCheckFunc) Name() string                    { return f.CheckName }
func (f HealthCheckFunc) Check(ctx context.Context) error { return f.Fn(ctx) }

// NewRedisHealthChecker pings the Redis instance shared by the pool store,
// quota counter and notification dedup.
func NewRedisHealthChecker(client *redis.Client) HealthChecker {
	return HealthCheckFunc{CheckName: "redis", Fn: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

func NewPostgresHealthChecker(db *sql.DB) HealthChecker {
	return HealthCheckFunc{CheckName: "postgres", Fn: db.PingContext}
}

// NewSystemCredentialsChecker fails while the system credential list cannot
// be loaded or is empty. Free-tier traffic cannot be served in that state.
func NewSystemCredentialsChecker(src repository.SystemConfigSource) HealthChecker {
	return HealthCheckFunc{CheckName: "system_credentials", Fn: func(ctx context.Context) error {
		cfg, err := src.Load(ctx)
		if err != nil {
			return err
		}
		if len(cfg.Credentials) == 0 {
			return errNoSystemCredentials
		}
		return nil
	}}
}

type HealthStatus struct {
	Status  string                 `json:"status"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
	Version string                 `json:"version,omitempty"`
}

type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// runHealthChecks runs every check concurrently under ctx.
func runHealthChecks(ctx context.Context, checkers []HealthChecker) (map[string]CheckResult, bool) {
	results := make(map[string]CheckResult, len(checkers))
	healthy := true
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			result := CheckResult{Status: "ok", Duration: time.Since(start).String()}
			if err != nil {
				result.Status = "error"
				result.Error = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			results[c.Name()] = result
			if err != nil {
				healthy = false
			}
		}(checker)
	}

	wg.Wait()
	return results, healthy
}

func handleHealthReady(checkers []HealthChecker, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		results, healthy := runHealthChecks(ctx, checkers)
		status := HealthStatus{Status: "ready", Checks: results, Version: Version}
		if !healthy {
			status.Status = "not_ready"
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}
