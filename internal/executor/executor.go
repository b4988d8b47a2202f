// Package executor runs one client request against the upstream: it
// authenticates the caller, enforces the free-tier allowance, picks
// credentials from the key pool and rotates through them on rate limits.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/cache"
	"github.com/felipepmaragno/puter-gateway/internal/crypto"
	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/keypool"
	"github.com/felipepmaragno/puter-gateway/internal/metrics"
	"github.com/felipepmaragno/puter-gateway/internal/notifications"
	"github.com/felipepmaragno/puter-gateway/internal/quota"
	"github.com/felipepmaragno/puter-gateway/internal/repository"
	"github.com/felipepmaragno/puter-gateway/internal/router"
	"github.com/felipepmaragno/puter-gateway/internal/telemetry"
	"github.com/felipepmaragno/puter-gateway/internal/tokenizer"
	"github.com/felipepmaragno/puter-gateway/internal/translator"
	"github.com/felipepmaragno/puter-gateway/internal/usage"
	"github.com/google/uuid"
)

// Upstream is the driver-call client.
type Upstream interface {
	Complete(ctx context.Context, cred string, call domain.UpstreamCall) (*translator.Completion, error)
	Stream(ctx context.Context, cred string, call domain.UpstreamCall) (translator.EventStream, error)
	GenerateImage(ctx context.Context, cred string, call domain.UpstreamCall) (*translator.Image, error)
}

// Notifier receives operational events. *notifications.Dispatcher
// satisfies it.
type Notifier interface {
	Notify(n notifications.Notification)
}

type Config struct {
	Tenants        cache.TenantLookup
	System         repository.SystemConfigSource
	Pool           *keypool.Pool
	Quota          *quota.Limiter
	FreeDailyLimit int
	Router         *router.Router
	Upstream       Upstream
	Usage          usage.Recorder
	Estimator      tokenizer.Estimator
	Notifier       Notifier
	Now            func() time.Time
}

type Executor struct {
	tenants        cache.TenantLookup
	system         repository.SystemConfigSource
	pool           *keypool.Pool
	quota          *quota.Limiter
	freeDailyLimit int
	router         *router.Router
	upstream       Upstream
	usage          usage.Recorder
	estimator      tokenizer.Estimator
	notifier       Notifier
	now            func() time.Time
}

func New(cfg Config) *Executor {
	if cfg.FreeDailyLimit <= 0 {
		cfg.FreeDailyLimit = quota.DefaultFreeDailyLimit
	}
	if cfg.Router == nil {
		cfg.Router = router.New()
	}
	if cfg.Usage == nil {
		cfg.Usage = usage.NewInMemoryRecorder()
	}
	if cfg.Estimator == nil {
		cfg.Estimator = tokenizer.CharEstimator{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{
		tenants:        cfg.Tenants,
		system:         cfg.System,
		pool:           cfg.Pool,
		quota:          cfg.Quota,
		freeDailyLimit: cfg.FreeDailyLimit,
		router:         cfg.Router,
		upstream:       cfg.Upstream,
		usage:          cfg.Usage,
		estimator:      cfg.Estimator,
		notifier:       cfg.Notifier,
		now:            cfg.Now,
	}
}

// Auth carries the caller's credentials. DirectToken, when set, is an
// upstream credential supplied by the client and bypasses tenant lookup.
type Auth struct {
	APIKey      string
	DirectToken string
	RequestID   string
}

// request is the per-call state shared by the chat, stream and image paths.
type request struct {
	id       string
	endpoint string
	start    time.Time

	tenant  *domain.Tenant
	direct  string
	creds   []string
	keyType domain.KeyType

	model    string
	provider string
	stream   bool
}

func (r *request) tenantID() string {
	if r.tenant == nil {
		return ""
	}
	return r.tenant.ID
}

// midStreamError marks a failure after bytes reached the client. It is
// never retried.
type midStreamError struct {
	err error
}

func (e *midStreamError) Error() string { return e.err.Error() }
func (e *midStreamError) Unwrap() error { return e.err }

// authenticate resolves the caller. Direct-token callers have no tenant.
func (e *Executor) authenticate(ctx context.Context, auth Auth, endpoint string) (*request, error) {
	req := &request{
		id:       auth.RequestID,
		endpoint: endpoint,
		start:    e.now(),
	}
	if req.id == "" {
		req.id = uuid.New().String()
	}

	if token := strings.TrimSpace(auth.DirectToken); token != "" {
		req.direct = token
		req.keyType = domain.KeyTypeDirectToken
		return req, nil
	}

	if auth.APIKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	if e.tenants == nil {
		return nil, domain.ErrInvalidAPIKey
	}

	tenant, err := e.tenants.GetByAPIKey(ctx, auth.APIKey)
	if err != nil {
		if errors.Is(err, domain.ErrTenantNotFound) {
			return nil, domain.ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("lookup tenant: %w", err)
	}
	req.tenant = tenant
	return req, nil
}

// acquire selects the credential list and, for free-tier tenants, checks
// and consumes the daily allowance. Direct-token requests are not counted.
func (e *Executor) acquire(ctx context.Context, req *request) error {
	if req.direct != "" {
		return nil
	}

	if req.tenant.HasOwnCredentials() {
		req.creds = req.tenant.Credentials
		req.keyType = domain.KeyTypeTenant
		return nil
	}

	req.keyType = domain.KeyTypeSystem
	sys, err := e.systemConfig(ctx)
	if err != nil {
		return err
	}

	limit := e.freeDailyLimit
	if sys.DailyFreeLimit > 0 {
		limit = sys.DailyFreeLimit
	}

	if e.quota != nil {
		if _, err := e.quota.Check(ctx, req.tenant.ID, limit); err != nil {
			return e.quotaRejected(req, err)
		}
	}

	if len(sys.Credentials) == 0 {
		return domain.ErrNoCredentials
	}
	req.creds = sys.Credentials

	// Check only reads the counter. Concurrent requests may all pass it, so
	// the increment decides admission.
	if e.quota != nil {
		if _, err := e.quota.Consume(ctx, req.tenant.ID, limit); err != nil {
			return e.quotaRejected(req, err)
		}
	}
	return nil
}

func (e *Executor) quotaRejected(req *request, err error) error {
	var limitErr *domain.DailyLimitError
	if errors.As(err, &limitErr) {
		slog.Warn("daily free limit reached",
			"request_id", req.id,
			"tenant_id", req.tenant.ID,
			"used", limitErr.Used,
			"limit", limitErr.Limit,
		)
		if e.notifier != nil {
			e.notifier.Notify(notifications.DailyLimitExceeded(req.tenant.ID, limitErr.Used, limitErr.Limit, domain.Today(e.now())))
		}
	}
	return err
}

func (e *Executor) systemConfig(ctx context.Context) (*domain.SystemConfig, error) {
	if e.system == nil {
		return &domain.SystemConfig{}, nil
	}
	sys, err := e.system.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load system config: %w", err)
	}
	return sys, nil
}

// invokeFunc performs one upstream attempt with cred.
type invokeFunc func(ctx context.Context, cred string) error

// run executes the attempt loop for req. The direct token is tried once;
// on failure the system credentials are rotated under the
// system-fallback key type.
func (e *Executor) run(ctx context.Context, req *request, invoke invokeFunc) error {
	if req.direct == "" {
		return e.rotate(ctx, req, req.creds, invoke)
	}

	err := e.attempt(ctx, req, req.direct, 1, invoke)
	if err == nil {
		return nil
	}
	var mid *midStreamError
	if errors.As(err, &mid) || ctx.Err() != nil {
		return err
	}

	slog.Warn("direct token failed, falling back to system credentials",
		"request_id", req.id,
		"credential", crypto.Fingerprint(req.direct),
		"error", err,
	)

	sys, sysErr := e.systemConfig(ctx)
	if sysErr != nil {
		return sysErr
	}
	if len(sys.Credentials) == 0 {
		return err
	}
	req.keyType = domain.KeyTypeSystemFallback
	req.creds = sys.Credentials
	return e.rotate(ctx, req, req.creds, invoke)
}

// rotate tries credentials from the pool, starting after the last one used,
// until one succeeds, a non-rate-limit error occurs or every credential
// has been attempted once.
func (e *Executor) rotate(ctx context.Context, req *request, creds []string, invoke invokeFunc) error {
	if len(creds) == 0 {
		return domain.ErrNoCredentials
	}
	if e.pool == nil {
		return domain.ErrAllKeysUnavailable
	}

	e.pool.LoadDailyBlocked(ctx)

	tried := make(map[string]struct{}, len(creds))
	start := 0
	var lastErr error

	for attempt := 1; attempt <= len(creds); attempt++ {
		cred, idx, ok := e.pool.Next(creds, start)
		if !ok {
			break
		}
		fp := crypto.Fingerprint(cred)
		if _, seen := tried[fp]; seen {
			break
		}
		tried[fp] = struct{}{}

		err := e.attempt(ctx, req, cred, attempt, invoke)
		if err == nil {
			return nil
		}
		lastErr = err

		var mid *midStreamError
		if errors.As(err, &mid) {
			return err
		}

		class := translator.ClassifyError(err)
		if !class.RateLimited {
			return err
		}

		e.pool.MarkTempFailed(cred)
		if class.Daily {
			e.pool.MarkDailyLimited(cred, err.Error())
		}
		telemetry.AddRotationEvent(ctx, fp, class.Daily)
		slog.Warn("credential rate limited, rotating",
			"request_id", req.id,
			"credential", fp,
			"attempt", attempt,
			"daily", class.Daily,
			"error", err,
		)
		start = idx + 1
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrAllKeysUnavailable, lastErr)
	}
	return domain.ErrAllKeysUnavailable
}

func (e *Executor) attempt(ctx context.Context, req *request, cred string, n int, invoke invokeFunc) error {
	fp := crypto.Fingerprint(cred)

	ctx, span := telemetry.StartSpan(ctx, "upstream.attempt")
	defer span.End()
	telemetry.AddAttemptAttributes(span, n, fp, string(req.keyType))

	err := invoke(ctx, cred)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
	}
	metrics.RecordAttempt(req.provider, attemptOutcome(err))

	slog.Debug("upstream attempt",
		"request_id", req.id,
		"credential", fp,
		"key_type", req.keyType,
		"attempt", n,
		"error", err,
	)
	return err
}

func attemptOutcome(err error) string {
	if err == nil {
		return "success"
	}
	var mid *midStreamError
	if errors.As(err, &mid) {
		return "stream_error"
	}
	var timeoutErr *domain.TimeoutError
	if errors.As(err, &timeoutErr) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	class := translator.ClassifyError(err)
	switch {
	case class.Daily:
		return "daily_limited"
	case class.RateLimited:
		return "rate_limited"
	}
	return "error"
}

// record appends the usage record for req. Failures are logged only.
func (e *Executor) record(ctx context.Context, req *request, u domain.Usage, err error) {
	now := e.now()
	rec := domain.UsageRecord{
		TenantID:         req.tenantID(),
		RequestID:        req.id,
		Model:            req.model,
		Provider:         req.provider,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Success:          err == nil,
		KeyType:          req.keyType,
		Stream:           req.stream,
		LatencyMs:        now.Sub(req.start).Milliseconds(),
		Timestamp:        now.UTC(),
		Date:             domain.Today(now),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	if recErr := e.usage.Record(context.WithoutCancel(ctx), rec); recErr != nil {
		slog.Warn("usage record failed", "request_id", req.id, "error", recErr)
	}

	status := "success"
	if err != nil {
		status = "error"
	} else {
		metrics.RecordTokens(req.provider, u.PromptTokens, u.CompletionTokens)
	}
	metrics.RecordRequest(req.endpoint, req.provider, string(req.keyType), status, now.Sub(req.start).Seconds())
}

// finish logs the outcome of req and records usage.
func (e *Executor) finish(ctx context.Context, req *request, u domain.Usage, err error) {
	e.record(ctx, req, u, err)

	latency := e.now().Sub(req.start).Milliseconds()
	if err != nil {
		slog.Error("request failed",
			"request_id", req.id,
			"tenant_id", req.tenantID(),
			"model", req.model,
			"provider", req.provider,
			"key_type", req.keyType,
			"latency_ms", latency,
			"error", err,
		)
		return
	}
	slog.Info("request completed",
		"request_id", req.id,
		"tenant_id", req.tenantID(),
		"model", req.model,
		"provider", req.provider,
		"key_type", req.keyType,
		"latency_ms", latency,
		"total_tokens", u.TotalTokens,
	)
}

func (e *Executor) estimateUsage(promptTokens int, output, model string) domain.Usage {
	completion := e.estimator.Estimate(output, model)
	return domain.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completion,
		TotalTokens:      promptTokens + completion,
	}
}

func newCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
