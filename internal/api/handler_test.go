package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/executor"
	"github.com/felipepmaragno/puter-gateway/internal/keypool"
	"github.com/felipepmaragno/puter-gateway/internal/repository"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type MockExecutor struct {
	CompleteFunc      func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error)
	StreamFunc        func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest, sink executor.ChunkSink) error
	GenerateImageFunc func(ctx context.Context, auth executor.Auth, req *domain.ImageRequest, inputImage string) (*domain.ImageResponse, error)
}

func (m *MockExecutor) Complete(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, auth, req)
	}
	return nil, errors.New("not implemented")
}

func (m *MockExecutor) Stream(ctx context.Context, auth executor.Auth, req *domain.ChatRequest, sink executor.ChunkSink) error {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, auth, req, sink)
	}
	return errors.New("not implemented")
}

func (m *MockExecutor) GenerateImage(ctx context.Context, auth executor.Auth, req *domain.ImageRequest, inputImage string) (*domain.ImageResponse, error) {
	if m.GenerateImageFunc != nil {
		return m.GenerateImageFunc(ctx, auth, req, inputImage)
	}
	return nil, errors.New("not implemented")
}

type MockPool struct {
	SnapshotValue keypool.Snapshot
}

func (m *MockPool) Snapshot() keypool.Snapshot { return m.SnapshotValue }

type MockHealthChecker struct {
	NameValue string
	Err       error
}

func (m *MockHealthChecker) Name() string                    { return m.NameValue }
func (m *MockHealthChecker) Check(ctx context.Context) error { return m.Err }

// =============================================================================
// Helpers
// =============================================================================

func chatBody(stream bool) []byte {
	body, _ := json.Marshal(map[string]any{
		"model":    "gpt-4o-mini",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
		"stream":   stream,
	})
	return body
}

func newChatRequest(body []byte, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func decodeError(t *testing.T, body []byte) errorDetail {
	t.Helper()
	var resp struct {
		Error errorDetail `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return resp.Error
}

func sseFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			frames = append(frames, data)
		}
	}
	return frames
}

// =============================================================================
// Tests
// =============================================================================

func TestHandleChatCompletions(t *testing.T) {
	content := "hello"

	tests := []struct {
		name             string
		exec             *MockExecutor
		body             []byte
		headers          map[string]string
		wantStatus       int
		wantBodyContains string
	}{
		{
			name: "successful request",
			exec: &MockExecutor{
				CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
					if auth.APIKey != "sk-A" {
						t.Errorf("APIKey = %q, want sk-A", auth.APIKey)
					}
					return &domain.ChatResponse{
						ID:     "chatcmpl-1",
						Object: "chat.completion",
						Model:  req.Model,
						Choices: []domain.Choice{{
							Message:      &domain.ResponseMessage{Role: "assistant", Content: &content},
							FinishReason: "stop",
						}},
					}, nil
				},
			},
			body:             chatBody(false),
			headers:          map[string]string{"Authorization": "Bearer sk-A"},
			wantStatus:       http.StatusOK,
			wantBodyContains: `"chat.completion"`,
		},
		{
			name:             "invalid json",
			exec:             &MockExecutor{},
			body:             []byte(`{"model":`),
			headers:          map[string]string{"Authorization": "Bearer sk-A"},
			wantStatus:       http.StatusBadRequest,
			wantBodyContains: "invalid request body",
		},
		{
			name:             "missing API key",
			exec:             &MockExecutor{},
			body:             chatBody(false),
			wantStatus:       http.StatusUnauthorized,
			wantBodyContains: "API key required",
		},
		{
			name:             "missing API key wins over invalid json",
			exec:             &MockExecutor{},
			body:             []byte(`{"model":`),
			wantStatus:       http.StatusUnauthorized,
			wantBodyContains: "API key required",
		},
		{
			name: "invalid API key",
			exec: &MockExecutor{
				CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
					return nil, domain.ErrInvalidAPIKey
				},
			},
			body:             chatBody(false),
			headers:          map[string]string{"X-API-Key": "sk-bad"},
			wantStatus:       http.StatusUnauthorized,
			wantBodyContains: "Invalid API key",
		},
		{
			name: "missing messages",
			exec: &MockExecutor{
				CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
					return nil, fmt.Errorf("%w: messages is required", domain.ErrInvalidRequest)
				},
			},
			body:             []byte(`{"model":"gpt-4o"}`),
			headers:          map[string]string{"Authorization": "Bearer sk-A"},
			wantStatus:       http.StatusBadRequest,
			wantBodyContains: "messages is required",
		},
		{
			name: "no credentials",
			exec: &MockExecutor{
				CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
					return nil, domain.ErrNoCredentials
				},
			},
			body:             chatBody(false),
			headers:          map[string]string{"Authorization": "Bearer sk-A"},
			wantStatus:       http.StatusInternalServerError,
			wantBodyContains: "No credential configured",
		},
		{
			name: "all keys unavailable",
			exec: &MockExecutor{
				CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
					return nil, fmt.Errorf("%w: %w", domain.ErrAllKeysUnavailable, &domain.UpstreamError{Message: "rate limit"})
				},
			},
			body:             chatBody(false),
			headers:          map[string]string{"Authorization": "Bearer sk-A"},
			wantStatus:       http.StatusInternalServerError,
			wantBodyContains: "All keys unavailable",
		},
		{
			name: "timeout names budget",
			exec: &MockExecutor{
				CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
					return nil, &domain.TimeoutError{Budget: 120 * time.Second}
				},
			},
			body:             chatBody(false),
			headers:          map[string]string{"Authorization": "Bearer sk-A"},
			wantStatus:       http.StatusInternalServerError,
			wantBodyContains: "2m0s",
		},
		{
			name: "fatal upstream error",
			exec: &MockExecutor{
				CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
					return nil, &domain.UpstreamError{Message: "model not found"}
				},
			},
			body:             chatBody(false),
			headers:          map[string]string{"Authorization": "Bearer sk-A"},
			wantStatus:       http.StatusInternalServerError,
			wantBodyContains: "model not found",
		},
		{
			name: "quota store down",
			exec: &MockExecutor{
				CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
					return nil, fmt.Errorf("%w: connection refused", domain.ErrQuotaUnavailable)
				},
			},
			body:             chatBody(false),
			headers:          map[string]string{"Authorization": "Bearer sk-A"},
			wantStatus:       http.StatusInternalServerError,
			wantBodyContains: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(HandlerConfig{Executor: tt.exec})

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, newChatRequest(tt.body, tt.headers))

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tt.wantBodyContains) {
				t.Errorf("body = %s, want it to contain %q", rr.Body.String(), tt.wantBodyContains)
			}
			if rr.Header().Get(RequestIDHeader) == "" {
				t.Error("missing X-Request-ID header")
			}
		})
	}
}

func TestHandleChatCompletions_DailyLimit(t *testing.T) {
	handler := NewHandler(HandlerConfig{Executor: &MockExecutor{
		CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, &domain.DailyLimitError{Used: 15, Limit: 15}
		},
	}})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newChatRequest(chatBody(false), map[string]string{"Authorization": "Bearer sk-A"}))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	detail := decodeError(t, rr.Body.Bytes())
	if detail.Code != "DAILY_LIMIT_EXCEEDED" {
		t.Errorf("code = %v, want DAILY_LIMIT_EXCEEDED", detail.Code)
	}
	if detail.DailyUsed == nil || *detail.DailyUsed != 15 || detail.DailyLimit == nil || *detail.DailyLimit != 15 {
		t.Errorf("dailyUsed/dailyLimit = %v/%v, want 15/15", detail.DailyUsed, detail.DailyLimit)
	}
}

func TestHandleChatCompletions_Stream(t *testing.T) {
	stop := "stop"
	handler := NewHandler(HandlerConfig{Executor: &MockExecutor{
		StreamFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest, sink executor.ChunkSink) error {
			if err := sink.Open(); err != nil {
				return err
			}
			sink.Send(domain.StreamChunk{ID: "c", Object: "chat.completion.chunk", Choices: []domain.ChunkChoice{{Delta: domain.Delta{Role: "assistant"}}}})
			sink.Send(domain.StreamChunk{ID: "c", Object: "chat.completion.chunk", Choices: []domain.ChunkChoice{{Delta: domain.Delta{Content: "hi"}}}})
			sink.Send(domain.StreamChunk{ID: "c", Object: "chat.completion.chunk", Choices: []domain.ChunkChoice{{FinishReason: &stop}}})
			return sink.Close()
		},
	}})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newChatRequest(chatBody(true), map[string]string{"Authorization": "Bearer sk-A"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}

	frames := sseFrames(t, rr.Body.String())
	if len(frames) != 4 {
		t.Fatalf("frames = %d, want 4: %v", len(frames), frames)
	}
	if frames[3] != "[DONE]" {
		t.Errorf("last frame = %q, want [DONE]", frames[3])
	}
	var first domain.StreamChunk
	json.Unmarshal([]byte(frames[0]), &first)
	if first.Choices[0].Delta.Role != "assistant" {
		t.Errorf("first frame = %s", frames[0])
	}
}

func TestHandleChatCompletions_StreamErrors(t *testing.T) {
	t.Run("before open is a JSON error", func(t *testing.T) {
		handler := NewHandler(HandlerConfig{Executor: &MockExecutor{
			StreamFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest, sink executor.ChunkSink) error {
				return fmt.Errorf("%w: %w", domain.ErrAllKeysUnavailable, errors.New("rate limit"))
			},
		}})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newChatRequest(chatBody(true), map[string]string{"Authorization": "Bearer sk-A"}))

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
	})

	t.Run("after open is an error frame", func(t *testing.T) {
		handler := NewHandler(HandlerConfig{Executor: &MockExecutor{
			StreamFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest, sink executor.ChunkSink) error {
				sink.Open()
				err := &domain.UpstreamError{Message: "boom"}
				sink.SendError(err)
				return err
			},
		}})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newChatRequest(chatBody(true), map[string]string{"Authorization": "Bearer sk-A"}))

		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rr.Code)
		}
		frames := sseFrames(t, rr.Body.String())
		if len(frames) != 1 || !strings.Contains(frames[0], `"boom"`) {
			t.Errorf("frames = %v, want one error frame", frames)
		}
	})
}

func TestExtractAuth(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		wantKey    string
		wantDirect string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer sk-1"}, "sk-1", ""},
		{"x-api-key", map[string]string{"X-API-Key": "sk-2"}, "sk-2", ""},
		{"bearer wins", map[string]string{"Authorization": "Bearer sk-1", "X-API-Key": "sk-2"}, "sk-1", ""},
		{"basic auth ignored", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}, "", ""},
		{"direct token", map[string]string{"X-Puter-Token": " T0 "}, "", "T0"},
		{"none", nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			got := extractAuth(req)
			if got.APIKey != tt.wantKey || got.DirectToken != tt.wantDirect {
				t.Errorf("extractAuth() = %+v, want key %q direct %q", got, tt.wantKey, tt.wantDirect)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	handler := NewHandler(HandlerConfig{Executor: &MockExecutor{}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-Puter-Token") {
		t.Errorf("Allow-Headers = %q, want X-Puter-Token listed", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := NewHandler(HandlerConfig{Executor: &MockExecutor{}})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	handler := NewHandler(HandlerConfig{Executor: &MockExecutor{
		CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
			seen = auth.RequestID
			return &domain.ChatResponse{}, nil
		},
	}})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newChatRequest(chatBody(false), map[string]string{
		"Authorization": "Bearer sk-A",
		RequestIDHeader: "req-42",
	}))

	if seen != "req-42" {
		t.Errorf("executor request id = %q, want req-42", seen)
	}
	if got := rr.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("response request id = %q, want req-42", got)
	}
}

func TestHandleImageGenerations(t *testing.T) {
	pngBytes := []byte{0x89, 'P', 'N', 'G'}
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer imageServer.Close()

	encoded := base64.StdEncoding.EncodeToString(pngBytes)

	tests := []struct {
		name       string
		image      string
		wantInput  string
		wantStatus int
	}{
		{"no image", "", "", http.StatusOK},
		{"data url", "data:image/png;base64," + encoded, encoded, http.StatusOK},
		{"http url", imageServer.URL + "/cat.png", encoded, http.StatusOK},
		{"raw base64", encoded, encoded, http.StatusOK},
		{"garbage", "not base64!!", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotInput string
			handler := NewHandler(HandlerConfig{Executor: &MockExecutor{
				GenerateImageFunc: func(ctx context.Context, auth executor.Auth, req *domain.ImageRequest, inputImage string) (*domain.ImageResponse, error) {
					gotInput = inputImage
					return &domain.ImageResponse{Created: 1, Data: []domain.ImageData{{B64JSON: "eA=="}}}, nil
				},
			}})

			body, _ := json.Marshal(domain.ImageRequest{Prompt: "a cat", Image: tt.image})
			req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", bytes.NewReader(body))
			req.Header.Set("Authorization", "Bearer sk-A")
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus == http.StatusOK && gotInput != tt.wantInput {
				t.Errorf("input image = %q, want %q", gotInput, tt.wantInput)
			}
		})
	}
}

func TestHandleImageGenerations_RequiresAuth(t *testing.T) {
	handler := NewHandler(HandlerConfig{Executor: &MockExecutor{}})

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(`{"prompt":"x","image":"http://169.254.169.254/"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestHandleListModels(t *testing.T) {
	handler := NewHandler(HandlerConfig{Executor: &MockExecutor{}})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp domain.ModelsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Object != "list" || len(resp.Data) == 0 {
		t.Errorf("models = %+v", resp)
	}
	found := false
	for _, m := range resp.Data {
		if m.ID == "gpt-4o-mini" {
			found = true
		}
	}
	if !found {
		t.Error("gpt-4o-mini not listed")
	}
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		checkers   []HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"live", "/health/live", nil, http.StatusOK, `"ok"`},
		{"pool snapshot", "/health", nil, http.StatusOK, `"day_blocked":2`},
		{"ready", "/health/ready", []HealthChecker{&MockHealthChecker{NameValue: "redis"}}, http.StatusOK, `"ready"`},
		{"not ready", "/health/ready", []HealthChecker{
			&MockHealthChecker{NameValue: "redis"},
			&MockHealthChecker{NameValue: "postgres", Err: errors.New("connection refused")},
		}, http.StatusServiceUnavailable, `"not_ready"`},
		{"metrics", "/metrics", nil, http.StatusOK, "go_goroutines"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(HandlerConfig{
				Executor:       &MockExecutor{},
				Pool:           &MockPool{SnapshotValue: keypool.Snapshot{Date: "2025-03-10", ShortBlocked: 1, DayBlocked: 2}},
				HealthCheckers: tt.checkers,
			})

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rr.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestSystemCredentialsChecker(t *testing.T) {
	tests := []struct {
		name    string
		creds   []string
		wantErr bool
	}{
		{"configured", []string{"K1"}, false},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewSystemCredentialsChecker(repository.NewStaticSystemConfig(tt.creds, 0))
			if checker.Name() != "system_credentials" {
				t.Errorf("Name() = %q", checker.Name())
			}
			err := checker.Check(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRedisHealthChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisHealthChecker(client)
	if err := checker.Check(context.Background()); err != nil {
		t.Errorf("Check() error = %v", err)
	}

	mr.Close()
	if err := checker.Check(context.Background()); err == nil {
		t.Error("Check() = nil after redis went away")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	handler := NewHandler(HandlerConfig{Executor: &MockExecutor{
		CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
			panic("boom")
		},
	}})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newChatRequest(chatBody(false), map[string]string{"Authorization": "Bearer sk-A"}))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
	}{
		{"bad request", http.StatusBadRequest, "invalid input"},
		{"unauthorized", http.StatusUnauthorized, "missing token"},
		{"internal error", http.StatusInternalServerError, "something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.status, tt.message)

			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			detail := decodeError(t, rr.Body.Bytes())
			if detail.Message != tt.message {
				t.Errorf("message = %q, want %q", detail.Message, tt.message)
			}
			if code, ok := detail.Code.(float64); !ok || int(code) != tt.status {
				t.Errorf("code = %v, want %d", detail.Code, tt.status)
			}
		})
	}
}

func BenchmarkHandleChatCompletions(b *testing.B) {
	content := "hello"
	handler := NewHandler(HandlerConfig{Executor: &MockExecutor{
		CompleteFunc: func(ctx context.Context, auth executor.Auth, req *domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{
				ID:      "chatcmpl-1",
				Object:  "chat.completion",
				Model:   req.Model,
				Choices: []domain.Choice{{Message: &domain.ResponseMessage{Role: "assistant", Content: &content}, FinishReason: "stop"}},
			}, nil
		},
	}})

	body := chatBody(false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := newChatRequest(body, map[string]string{"Authorization": "Bearer sk-A"})
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
