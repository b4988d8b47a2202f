package translator

import (
	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/tokenizer"
)

// StreamEncoder turns upstream events into OpenAI chat.completion.chunk
// frames. Inline think regions in text events are routed to
// reasoning_content.
type StreamEncoder struct {
	id           string
	model        string
	created      int64
	estimator    tokenizer.Estimator
	promptTokens int

	splitter  ThinkSplitter
	toolIndex int
	emitted   []byte
	usage     *domain.Usage
}

func NewStreamEncoder(id, model string, created int64, estimator tokenizer.Estimator, promptTokens int) *StreamEncoder {
	if estimator == nil {
		estimator = tokenizer.CharEstimator{}
	}
	return &StreamEncoder{
		id:           id,
		model:        model,
		created:      created,
		estimator:    estimator,
		promptTokens: promptTokens,
	}
}

// Start returns the initial role frame.
func (e *StreamEncoder) Start() domain.StreamChunk {
	return e.chunk(domain.Delta{Role: "assistant"}, nil)
}

// Encode converts one event into zero or more frames.
func (e *StreamEncoder) Encode(ev Event) []domain.StreamChunk {
	switch ev.Kind {
	case EventText:
		return e.segments(e.splitter.Push(ev.Text))
	case EventReasoning:
		if ev.Text == "" {
			return nil
		}
		e.emitted = append(e.emitted, ev.Text...)
		return []domain.StreamChunk{e.chunk(domain.Delta{ReasoningContent: ev.Text}, nil)}
	case EventToolUse:
		out := e.segments(e.splitter.Flush())
		return append(out, e.toolCall(ev.ToolCall)...)
	case EventUsage:
		if ev.Usage != nil {
			u := *ev.Usage
			e.usage = &u
		}
	}
	return nil
}

// Finish flushes held text and returns the remaining frames, the last of
// which carries finish_reason and usage.
func (e *StreamEncoder) Finish() []domain.StreamChunk {
	out := e.segments(e.splitter.Flush())

	reason := "stop"
	if e.toolIndex > 0 {
		reason = "tool_calls"
	}
	final := e.chunk(domain.Delta{}, &reason)
	usage := e.Usage()
	final.Usage = &usage
	return append(out, final)
}

// Usage is the upstream-reported usage when present, otherwise an estimate
// over the prompt and everything emitted so far.
func (e *StreamEncoder) Usage() domain.Usage {
	if e.usage != nil {
		return *e.usage
	}
	completion := e.estimator.Estimate(string(e.emitted), e.model)
	return domain.Usage{
		PromptTokens:     e.promptTokens,
		CompletionTokens: completion,
		TotalTokens:      e.promptTokens + completion,
	}
}

// ToolCallCount is the number of tool calls emitted so far.
func (e *StreamEncoder) ToolCallCount() int {
	return e.toolIndex
}

func (e *StreamEncoder) segments(segs []Segment) []domain.StreamChunk {
	out := make([]domain.StreamChunk, 0, len(segs))
	for _, s := range segs {
		e.emitted = append(e.emitted, s.Text...)
		if s.Reasoning {
			out = append(out, e.chunk(domain.Delta{ReasoningContent: s.Text}, nil))
		} else {
			out = append(out, e.chunk(domain.Delta{Content: s.Text}, nil))
		}
	}
	return out
}

func (e *StreamEncoder) toolCall(tc domain.ToolCall) []domain.StreamChunk {
	idx := e.toolIndex
	e.toolIndex++

	id := tc.ID
	if id == "" {
		id = newToolCallID()
	}
	args := tc.Function.Arguments
	if args == "" {
		args = "{}"
	}
	e.emitted = append(e.emitted, tc.Function.Name...)
	e.emitted = append(e.emitted, args...)

	header := domain.ToolCall{
		Index:    intPtr(idx),
		ID:       id,
		Type:     "function",
		Function: domain.FunctionCall{Name: tc.Function.Name, Arguments: ""},
	}
	body := domain.ToolCall{
		Index:    intPtr(idx),
		Function: domain.FunctionCall{Arguments: args},
	}
	return []domain.StreamChunk{
		e.chunk(domain.Delta{ToolCalls: []domain.ToolCall{header}}, nil),
		e.chunk(domain.Delta{ToolCalls: []domain.ToolCall{body}}, nil),
	}
}

func (e *StreamEncoder) chunk(delta domain.Delta, finish *string) domain.StreamChunk {
	return domain.StreamChunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []domain.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func intPtr(v int) *int {
	return &v
}
