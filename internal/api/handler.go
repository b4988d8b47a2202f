package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/executor"
	"github.com/felipepmaragno/puter-gateway/internal/httputil"
	"github.com/felipepmaragno/puter-gateway/internal/keypool"
	"github.com/felipepmaragno/puter-gateway/internal/router"
	"github.com/felipepmaragno/puter-gateway/internal/translator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Version = "1.0.0"

	maxRequestBytes = 32 << 20
	maxImageBytes   = 10 << 20
)

// Executor runs gateway requests against the upstream.
type Executor interface {
	Complete(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error)
	Stream(ctx context.Context, auth executor.Auth, req *domain.ChatRequest, sink executor.ChunkSink) error
	GenerateImage(ctx context.Context, auth executor.Auth, req *domain.ImageRequest, inputImage string) (*domain.ImageResponse, error)
}

// PoolStatus reports key pool health.
type PoolStatus interface {
	Snapshot() keypool.Snapshot
}

type HandlerConfig struct {
	Executor       Executor
	Router         *router.Router
	Pool           PoolStatus
	HealthCheckers []HealthChecker
	HealthTimeout  time.Duration
	// ImageClient fetches image inputs given by URL.
	ImageClient *http.Client
}

type Handler struct {
	executor    Executor
	router      *router.Router
	pool        PoolStatus
	imageClient *http.Client
	mux         *http.ServeMux
	handler     http.Handler
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Router == nil {
		cfg.Router = router.New()
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.ImageClient == nil {
		cfg.ImageClient = httputil.NewClient(httputil.FetchConfig())
	}

	h := &Handler{
		executor:    cfg.Executor,
		router:      cfg.Router,
		pool:        cfg.Pool,
		imageClient: cfg.ImageClient,
		mux:         http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("POST /v1/images/generations", h.handleImageGenerations)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReady(cfg.HealthCheckers, cfg.HealthTimeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	h.handler = withRequestID(withLogging(withRecover(withCORS(h.mux))))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	auth := extractAuth(r)
	if auth.APIKey == "" && auth.DirectToken == "" {
		writeExecutorError(w, r, domain.ErrMissingAPIKey)
		return
	}

	var req domain.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Stream {
		sink := newSSESink(w)
		err := h.executor.Stream(r.Context(), auth, &req, sink)
		if err != nil && !sink.opened {
			writeExecutorError(w, r, err)
		}
		return
	}

	resp, err := h.executor.Complete(r.Context(), auth, &req)
	if err != nil {
		writeExecutorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleImageGenerations(w http.ResponseWriter, r *http.Request) {
	auth := extractAuth(r)
	if auth.APIKey == "" && auth.DirectToken == "" {
		writeExecutorError(w, r, domain.ErrMissingAPIKey)
		return
	}

	var req domain.ImageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inputImage, err := h.resolveInputImage(r.Context(), req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.executor.GenerateImage(r.Context(), auth, &req, inputImage)
	if err != nil {
		writeExecutorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveInputImage turns the image field into bare base64. It accepts a
// data URL, an http(s) URL which is fetched, or raw base64.
func (h *Handler) resolveInputImage(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "data:"):
		_, data, err := translator.DecodeDataURL(ref)
		if err != nil {
			return "", fmt.Errorf("invalid image: %w", err)
		}
		return base64.StdEncoding.EncodeToString(data), nil
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		data, _, err := httputil.FetchLimited(ctx, h.imageClient, ref, maxImageBytes)
		if err != nil {
			return "", fmt.Errorf("failed to fetch image: %w", err)
		}
		return base64.StdEncoding.EncodeToString(data), nil
	}
	if _, err := base64.StdEncoding.DecodeString(ref); err != nil {
		return "", errors.New("invalid image: expected a data URL, an http(s) URL or base64")
	}
	return ref, nil
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.ModelsResponse{
		Object: "list",
		Data:   h.router.Models(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "healthy",
		"version": Version,
	}
	if h.pool != nil {
		resp["key_pool"] = h.pool.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// extractAuth reads the gateway key from a bearer token or X-API-Key and
// the optional direct upstream token.
func extractAuth(r *http.Request) executor.Auth {
	auth := executor.Auth{
		DirectToken: strings.TrimSpace(r.Header.Get("X-Puter-Token")),
		RequestID:   RequestIDFromContext(r.Context()),
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		auth.APIKey = strings.TrimSpace(bearer)
	}
	if auth.APIKey == "" {
		auth.APIKey = strings.TrimSpace(r.Header.Get("X-API-Key"))
	}
	return auth
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v)
}

type errorDetail struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       any    `json:"code"`
	DailyUsed  *int   `json:"dailyUsed,omitempty"`
	DailyLimit *int   `json:"dailyLimit,omitempty"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// writeExecutorError maps executor errors to client responses.
func writeExecutorError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		limitErr   *domain.DailyLimitError
		timeoutErr *domain.TimeoutError
		upErr      *domain.UpstreamError
	)

	switch {
	case errors.Is(err, domain.ErrMissingAPIKey):
		writeErrorDetail(w, http.StatusUnauthorized, errorDetail{Message: "API key required", Type: "authentication_error", Code: http.StatusUnauthorized})
	case errors.Is(err, domain.ErrInvalidAPIKey):
		writeErrorDetail(w, http.StatusUnauthorized, errorDetail{Message: "Invalid API key", Type: "authentication_error", Code: http.StatusUnauthorized})
	case errors.Is(err, domain.ErrInvalidRequest):
		writeErrorDetail(w, http.StatusBadRequest, errorDetail{Message: err.Error(), Type: "invalid_request_error", Code: http.StatusBadRequest})
	case errors.As(err, &limitErr):
		used, limit := limitErr.Used, limitErr.Limit
		writeErrorDetail(w, http.StatusForbidden, errorDetail{
			Message:    fmt.Sprintf("Daily free limit of %d requests reached. Add your own credentials to continue.", limit),
			Type:       "daily_limit_error",
			Code:       "DAILY_LIMIT_EXCEEDED",
			DailyUsed:  &used,
			DailyLimit: &limit,
		})
	case errors.Is(err, domain.ErrNoCredentials):
		writeError(w, http.StatusInternalServerError, "No credential configured")
	case errors.Is(err, domain.ErrAllKeysUnavailable):
		writeError(w, http.StatusInternalServerError, "All keys unavailable")
	case errors.As(err, &timeoutErr):
		writeError(w, http.StatusInternalServerError, timeoutErr.Error())
	case errors.As(err, &upErr):
		writeError(w, http.StatusInternalServerError, upErr.Error())
	case errors.Is(err, context.Canceled):
		slog.Debug("client went away", "request_id", RequestIDFromContext(r.Context()))
	default:
		slog.Error("request failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeErrorDetail(w, status, errorDetail{Message: message, Type: "api_error", Code: status})
}

func writeErrorDetail(w http.ResponseWriter, status int, detail errorDetail) {
	writeJSON(w, status, errorResponse{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
