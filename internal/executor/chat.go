package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/metrics"
	"github.com/felipepmaragno/puter-gateway/internal/telemetry"
	"github.com/felipepmaragno/puter-gateway/internal/translator"
)

const (
	endpointChat  = "chat"
	endpointImage = "images"
)

// ChunkSink receives the frames of one streamed response. Nothing reaches
// the client before Open; Close terminates the stream with the done marker.
type ChunkSink interface {
	Open() error
	Send(chunk domain.StreamChunk) error
	SendError(err error) error
	Close() error
}

func validateChat(req *domain.ChatRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages is required", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Model) == "" {
		return fmt.Errorf("%w: model is required", domain.ErrInvalidRequest)
	}
	return nil
}

func (e *Executor) resolve(req *domain.ChatRequest) domain.Route {
	route := e.router.Resolve(req.Model, req.HasTools())
	return e.router.ApplyThinking(route, req.Model, req.ThinkingBudget)
}

// Complete runs a non-streaming chat completion.
func (e *Executor) Complete(ctx context.Context, auth Auth, chatReq *domain.ChatRequest) (*domain.ChatResponse, error) {
	req, err := e.authenticate(ctx, auth, endpointChat)
	if err != nil {
		return nil, err
	}
	if err := validateChat(chatReq); err != nil {
		return nil, err
	}

	upstreamReq := *chatReq
	upstreamReq.Stream = false
	route := e.resolve(&upstreamReq)
	req.model = chatReq.Model
	req.provider = route.Provider

	ctx, span := telemetry.StartSpan(ctx, "executor.chat")
	defer span.End()
	telemetry.AddRequestAttributes(span, req.tenantID(), chatReq.Model, route.Driver, req.id, false)

	if err := e.acquire(ctx, req); err != nil {
		telemetry.AddErrorAttribute(span, err)
		e.finish(ctx, req, domain.Usage{}, err)
		return nil, err
	}

	call := translator.BuildChatCall(route, &upstreamReq)

	var completion *translator.Completion
	err = e.run(ctx, req, func(ctx context.Context, cred string) error {
		c, err := e.upstream.Complete(ctx, cred, call)
		if err != nil {
			return err
		}
		completion = c
		return nil
	})
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		e.finish(ctx, req, domain.Usage{}, err)
		return nil, err
	}

	var u domain.Usage
	if completion.Usage != nil {
		u = *completion.Usage
	} else {
		prompt := e.estimator.Estimate(translator.PromptText(chatReq.Messages), route.Model)
		u = e.estimateUsage(prompt, completion.Reasoning+completion.Content, route.Model)
	}
	telemetry.AddTokenAttributes(span, u.PromptTokens, u.CompletionTokens)

	resp := translator.ToChatResponse(completion, newCompletionID(), chatReq.Model, e.now().Unix(), u)
	resp.Gateway = &domain.Gateway{
		Provider:  route.Provider,
		LatencyMs: e.now().Sub(req.start).Milliseconds(),
		RequestID: req.id,
		TraceID:   telemetry.GetTraceID(ctx),
	}

	e.finish(ctx, req, u, nil)
	return resp, nil
}

// Stream runs a streaming chat completion, writing frames to sink.
// Failures before sink.Open are returned without touching the sink and
// may be retried on another credential; a failure after Open is reported
// in-stream with SendError and ends the stream.
func (e *Executor) Stream(ctx context.Context, auth Auth, chatReq *domain.ChatRequest, sink ChunkSink) error {
	req, err := e.authenticate(ctx, auth, endpointChat)
	if err != nil {
		return err
	}
	if err := validateChat(chatReq); err != nil {
		return err
	}

	upstreamReq := *chatReq
	upstreamReq.Stream = true
	route := e.resolve(&upstreamReq)
	req.model = chatReq.Model
	req.provider = route.Provider
	req.stream = true

	ctx, span := telemetry.StartSpan(ctx, "executor.stream")
	defer span.End()
	telemetry.AddRequestAttributes(span, req.tenantID(), chatReq.Model, route.Driver, req.id, true)

	if err := e.acquire(ctx, req); err != nil {
		telemetry.AddErrorAttribute(span, err)
		e.finish(ctx, req, domain.Usage{}, err)
		return err
	}

	call := translator.BuildChatCall(route, &upstreamReq)
	id := newCompletionID()
	created := e.now().Unix()
	promptTokens := e.estimator.Estimate(translator.PromptText(chatReq.Messages), route.Model)

	var enc *translator.StreamEncoder
	err = e.run(ctx, req, func(ctx context.Context, cred string) error {
		st, err := e.upstream.Stream(ctx, cred, call)
		if err != nil {
			return err
		}
		defer st.Close()

		// The first event decides whether the credential works; an error
		// here is still retryable because nothing has been written.
		first, evErr := st.Next()
		if evErr != nil && !errors.Is(evErr, io.EOF) {
			return evErr
		}

		if err := sink.Open(); err != nil {
			return &midStreamError{err: err}
		}
		metrics.IncrementActiveStreams()
		defer metrics.DecrementActiveStreams()

		enc = translator.NewStreamEncoder(id, chatReq.Model, created, e.estimator, promptTokens)
		send := func(chunks ...domain.StreamChunk) error {
			for _, c := range chunks {
				if err := sink.Send(c); err != nil {
					return &midStreamError{err: err}
				}
			}
			return nil
		}

		if err := send(enc.Start()); err != nil {
			return err
		}
		ev := first
		for evErr == nil {
			if err := send(enc.Encode(ev)...); err != nil {
				return err
			}
			ev, evErr = st.Next()
		}
		if !errors.Is(evErr, io.EOF) {
			if err := sink.SendError(evErr); err != nil {
				return &midStreamError{err: errors.Join(evErr, err)}
			}
			return &midStreamError{err: evErr}
		}

		if err := send(enc.Finish()...); err != nil {
			return err
		}
		if err := sink.Close(); err != nil {
			return &midStreamError{err: err}
		}
		return nil
	})

	var u domain.Usage
	if enc != nil {
		u = enc.Usage()
	}
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		e.finish(ctx, req, u, err)
		return err
	}

	telemetry.AddTokenAttributes(span, u.PromptTokens, u.CompletionTokens)
	e.finish(ctx, req, u, nil)
	return nil
}
