// Package puter is the HTTP client for the Puter driver-call endpoint.
package puter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/httputil"
	"github.com/felipepmaragno/puter-gateway/internal/translator"
)

const (
	DefaultURL            = "https://api.puter.com/drivers/call"
	DefaultOrigin         = "https://puter.com"
	DefaultRequestTimeout = 120 * time.Second
	DefaultStreamTimeout  = 240 * time.Second

	// maxResponseBytes caps buffered (non-stream) bodies.
	maxResponseBytes = 32 << 20
)

type Config struct {
	URL            string
	Origin         string
	RequestTimeout time.Duration
	StreamTimeout  time.Duration
	HTTPClient     *http.Client
}

type Client struct {
	url            string
	origin         string
	requestTimeout time.Duration
	streamTimeout  time.Duration
	client         *http.Client
}

func New(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Origin == "" {
		cfg.Origin = DefaultOrigin
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = DefaultStreamTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httputil.NewClient(httputil.UpstreamConfig())
	}
	return &Client{
		url:            cfg.URL,
		origin:         cfg.Origin,
		requestTimeout: cfg.RequestTimeout,
		streamTimeout:  cfg.StreamTimeout,
		client:         cfg.HTTPClient,
	}
}

func (c *Client) ID() string {
	return "puter"
}

// Complete performs a non-streaming chat call with credential cred.
func (c *Client) Complete(ctx context.Context, cred string, call domain.UpstreamCall) (*translator.Completion, error) {
	callCtx, cancel := withBudget(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.do(callCtx, cred, call)
	if err != nil {
		return nil, mapContextError(callCtx, err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, mapContextError(callCtx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, translator.ErrorFromBody(resp.StatusCode, body)
	}

	return translator.ParseCompletion(body)
}

// Stream opens a streaming chat call. The returned stream owns the
// response body and the call deadline; callers must Close it.
func (c *Client) Stream(ctx context.Context, cred string, call domain.UpstreamCall) (translator.EventStream, error) {
	callCtx, cancel := withBudget(ctx, c.streamTimeout)

	resp, err := c.do(callCtx, cred, call)
	if err != nil {
		cancel()
		return nil, mapContextError(callCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := readLimited(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, translator.ErrorFromBody(resp.StatusCode, body)
	}

	s := &Stream{ctx: callCtx, cancel: cancel, body: resp.Body}

	// A JSON body on a streaming call is a complete response or an error
	// envelope; it is replayed as events.
	if isJSON(resp.Header.Get("Content-Type")) {
		body, err := readLimited(resp.Body)
		resp.Body.Close()
		if err != nil {
			cancel()
			return nil, mapContextError(callCtx, err)
		}
		completion, err := translator.ParseCompletion(body)
		if err != nil {
			cancel()
			return nil, err
		}
		s.replay = translator.CompletionEvents(completion)
		s.replaying = true
		return s, nil
	}

	s.reader = translator.NewStreamReader(resp.Body)
	return s, nil
}

// GenerateImage performs an image generation call.
func (c *Client) GenerateImage(ctx context.Context, cred string, call domain.UpstreamCall) (*translator.Image, error) {
	callCtx, cancel := withBudget(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.do(callCtx, cred, call)
	if err != nil {
		return nil, mapContextError(callCtx, err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, mapContextError(callCtx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, translator.ErrorFromBody(resp.StatusCode, body)
	}

	return translator.ParseImage(body)
}

func (c *Client) do(ctx context.Context, cred string, call domain.UpstreamCall) (*http.Response, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred)
	req.Header.Set("Origin", c.origin)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// Stream is an open upstream stream.
type Stream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	body      io.ReadCloser
	reader    *translator.StreamReader
	replay    []translator.Event
	replaying bool
}

// Next returns the next event or io.EOF.
func (s *Stream) Next() (translator.Event, error) {
	if s.replaying {
		if len(s.replay) == 0 {
			return translator.Event{}, io.EOF
		}
		ev := s.replay[0]
		s.replay = s.replay[1:]
		return ev, nil
	}

	ev, err := s.reader.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		return ev, mapContextError(s.ctx, err)
	}
	return ev, err
}

func (s *Stream) Close() error {
	s.cancel()
	return s.body.Close()
}

func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(ctx, budget, &domain.TimeoutError{Budget: budget})
}

// mapContextError reports the local budget as a *domain.TimeoutError and a
// caller cancellation as the caller's context error.
func mapContextError(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	var timeoutErr *domain.TimeoutError
	if cause := context.Cause(ctx); errors.As(cause, &timeoutErr) {
		return timeoutErr
	}
	return ctx.Err()
}

func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}
