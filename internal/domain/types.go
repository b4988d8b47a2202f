package domain

import "time"

// DateLayout is the calendar date format used for counters and day blocks.
const DateLayout = "2006-01-02"

// Today returns the UTC calendar date of t.
func Today(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

type Tenant struct {
	ID                    string
	Name                  string
	APIKeyHash            string
	Credentials           []string
	DailyRequestsUsed     int
	LastRequestDate       string
	TotalPromptTokens     int64
	TotalCompletionTokens int64
	TotalRequests         int64
	Enabled               bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasOwnCredentials reports whether the tenant brings its own upstream credentials.
func (t *Tenant) HasOwnCredentials() bool {
	return len(t.Credentials) > 0
}

// KeyType tags which credential list served a request.
type KeyType string

const (
	KeyTypeTenant         KeyType = "tenant"
	KeyTypeSystem         KeyType = "system"
	KeyTypeDirectToken    KeyType = "direct-token"
	KeyTypeSystemFallback KeyType = "system-fallback"
)

// SystemConfig is the gateway-wide credential configuration.
type SystemConfig struct {
	Credentials    []string `json:"systemCredentials"`
	DailyFreeLimit int      `json:"dailyFreeLimit,omitempty"`
}

// BlockedCredential is one entry of a day's blocked-credential document.
type BlockedCredential struct {
	Hash     string    `json:"hash"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failedAt"`
}

type UsageRecord struct {
	TenantID         string    `json:"tenant_id"`
	RequestID        string    `json:"request_id"`
	Model            string    `json:"model"`
	Provider         string    `json:"provider"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Success          bool      `json:"success"`
	Error            string    `json:"error,omitempty"`
	KeyType          KeyType   `json:"key_type"`
	Stream           bool      `json:"stream"`
	LatencyMs        int64     `json:"latency_ms"`
	Timestamp        time.Time `json:"timestamp"`
	Date             string    `json:"date"`
}

// Route is the resolved upstream target for a client model identifier.
type Route struct {
	Driver           string
	Model            string
	Provider         string
	Multimodal       bool
	IncludeReasoning bool
	Thinking         *Thinking
	SystemPrelude    string
}

type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// UpstreamCall is the driver-call envelope sent to the upstream.
type UpstreamCall struct {
	Interface string `json:"interface"`
	Driver    string `json:"driver"`
	Method    string `json:"method"`
	Args      any    `json:"args"`
}
