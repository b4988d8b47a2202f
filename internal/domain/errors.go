package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrMissingAPIKey      = errors.New("missing API key")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNoCredentials      = errors.New("no credential configured")
	ErrAllKeysUnavailable = errors.New("all keys unavailable")
	ErrQuotaUnavailable   = errors.New("quota store unavailable")
)

// UpstreamError is a failure reported by the upstream, either as a
// {success:false} envelope or as a non-2xx status.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 && e.Message == "" {
		return fmt.Sprintf("upstream error: status=%d", e.StatusCode)
	}
	return e.Message
}

// TimeoutError is returned when an upstream call exceeds its local budget.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream request timed out after %s", e.Budget)
}

// DailyLimitError is returned when a free-tier tenant has used its daily allowance.
type DailyLimitError struct {
	Used  int
	Limit int
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("daily free limit reached (%d/%d)", e.Used, e.Limit)
}
