package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Tools          json.RawMessage `json:"tools,omitempty"`
	ToolChoice     json.RawMessage `json:"tool_choice,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	ThinkingBudget int             `json:"thinking_budget,omitempty"`
}

// HasTools reports whether the request carries a non-empty tools array.
func (r *ChatRequest) HasTools() bool {
	trimmed := bytes.TrimSpace(r.Tools)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false
	}
	var tools []json.RawMessage
	if err := json.Unmarshal(trimmed, &tools); err != nil {
		return false
	}
	return len(tools) > 0
}

type Message struct {
	Role             string     `json:"role"`
	Content          Content    `json:"content"`
	Name             string     `json:"name,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
}

// Content is the OpenAI message content union: a string, a list of parts, or null.
type Content struct {
	Text  *string
	Parts []ContentPart
}

func TextContent(s string) Content {
	return Content{Text: &s}
}

func PartsContent(parts ...ContentPart) Content {
	if parts == nil {
		parts = []ContentPart{}
	}
	return Content{Parts: parts}
}

func (c Content) IsNull() bool {
	return c.Text == nil && c.Parts == nil
}

func (c Content) IsParts() bool {
	return c.Text == nil && c.Parts != nil
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*c = Content{}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode text content: %w", err)
		}
		c.Text = &s
	case '[':
		parts := []ContentPart{}
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return fmt.Errorf("decode content parts: %w", err)
		}
		c.Parts = parts
	case '{':
		var part ContentPart
		if err := json.Unmarshal(trimmed, &part); err != nil {
			return fmt.Errorf("decode content part: %w", err)
		}
		c.Parts = []ContentPart{part}
	default:
		return fmt.Errorf("unsupported content type: %s", string(trimmed[:1]))
	}
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch {
	case c.Text != nil:
		return json.Marshal(*c.Text)
	case c.Parts != nil:
		return json.Marshal(c.Parts)
	default:
		return []byte("null"), nil
	}
}

// ContentPart covers the OpenAI and Anthropic part shapes the gateway accepts.
type ContentPart struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ImageURL  *ImageURL       `json:"image_url,omitempty"`
	Image     json.RawMessage `json:"image,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
	File      json.RawMessage `json:"file,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *Content        `json:"content,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// UnmarshalJSON accepts arguments either as a JSON string or as a raw JSON
// value, which is kept in compact form.
func (f *FunctionCall) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Name = raw.Name
	f.Arguments = ArgumentsString(raw.Arguments)
	return nil
}

// ArgumentsString renders tool-call arguments as a JSON string. Missing
// or null arguments become "{}".
func ArgumentsString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}"
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Gateway *Gateway `json:"x_gateway,omitempty"`
}

type Choice struct {
	Index        int              `json:"index"`
	Message      *ResponseMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

type ResponseMessage struct {
	Role             string     `json:"role"`
	Content          *string    `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Gateway struct {
	Provider  string `json:"provider"`
	LatencyMs int64  `json:"latency_ms"`
	RequestID string `json:"request_id"`
	TraceID   string `json:"trace_id,omitempty"`
}

type StreamChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type Delta struct {
	Role             string     `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

type ImageRequest struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	N              int    `json:"n,omitempty"`
	Style          string `json:"style,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	Image          string `json:"image,omitempty"`
}

type ImageResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

type ImageData struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// UsageFields decodes the upstream usage union: an array of
// {type, amount} entries, an Anthropic {input_tokens, output_tokens}
// object, or an OpenAI {prompt_tokens, completion_tokens, total_tokens}
// object. Present is false when the value was null or empty.
type UsageFields struct {
	Prompt     int
	Completion int
	Total      int
	Present    bool
}

type usageAmount struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

type usageObject struct {
	InputTokens      *int `json:"input_tokens"`
	OutputTokens     *int `json:"output_tokens"`
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TotalTokens      *int `json:"total_tokens"`
}

func (u *UsageFields) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*u = UsageFields{}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '[':
		var entries []usageAmount
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return fmt.Errorf("decode usage array: %w", err)
		}
		for _, e := range entries {
			t := strings.ToLower(e.Type)
			switch {
			case strings.Contains(t, "prompt"), strings.Contains(t, "input"):
				u.Prompt += int(e.Amount)
				u.Present = true
			case strings.Contains(t, "completion"), strings.Contains(t, "output"):
				u.Completion += int(e.Amount)
				u.Present = true
			}
		}
		u.Total = u.Prompt + u.Completion
	case '{':
		var obj usageObject
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return fmt.Errorf("decode usage object: %w", err)
		}
		switch {
		case obj.InputTokens != nil || obj.OutputTokens != nil:
			u.Prompt = derefInt(obj.InputTokens)
			u.Completion = derefInt(obj.OutputTokens)
			u.Present = true
		case obj.PromptTokens != nil || obj.CompletionTokens != nil || obj.TotalTokens != nil:
			u.Prompt = derefInt(obj.PromptTokens)
			u.Completion = derefInt(obj.CompletionTokens)
			u.Present = true
		}
		u.Total = u.Prompt + u.Completion
		if obj.TotalTokens != nil && *obj.TotalTokens > u.Total {
			u.Total = *obj.TotalTokens
		}
	default:
		return fmt.Errorf("unsupported usage type: %s", string(trimmed[:1]))
	}
	return nil
}

// Usage converts the decoded fields, or returns nil when none were present.
func (u UsageFields) Usage() *Usage {
	if !u.Present {
		return nil
	}
	return &Usage{PromptTokens: u.Prompt, CompletionTokens: u.Completion, TotalTokens: u.Total}
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
