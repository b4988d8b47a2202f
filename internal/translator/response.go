package translator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/google/uuid"
)

// Completion is a parsed non-streaming upstream result.
type Completion struct {
	Content   string
	Reasoning string
	ToolCalls []domain.ToolCall
	Usage     *domain.Usage
}

// FinishReason is "tool_calls" when the completion carries tool calls.
func (c *Completion) FinishReason() string {
	if len(c.ToolCalls) > 0 {
		return "tool_calls"
	}
	return "stop"
}

type envelope struct {
	Success *bool           `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
	Usage   json.RawMessage `json:"usage"`
}

type resultPayload struct {
	Message *upstreamMessage `json:"message"`
	Choices []struct {
		Message *upstreamMessage `json:"message"`
	} `json:"choices"`
	Text  *string         `json:"text"`
	Usage json.RawMessage `json:"usage"`
}

type upstreamMessage struct {
	Content          json.RawMessage `json:"content"`
	Reasoning        *string         `json:"reasoning"`
	ReasoningContent *string         `json:"reasoning_content"`
	ReasoningDetails []struct {
		Text string `json:"text"`
	} `json:"reasoning_details"`
	ToolCalls []rawToolCall `json:"tool_calls"`
}

type rawToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function *domain.FunctionCall `json:"function"`
	Name     string               `json:"name"`
	Input    json.RawMessage      `json:"input"`
}

type rawPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
}

// ParseCompletion parses a non-streaming upstream body. A {success:false}
// envelope is returned as *domain.UpstreamError.
func ParseCompletion(body []byte) (*Completion, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &domain.UpstreamError{Message: "empty upstream response"}
	}

	payload := trimmed
	var topUsage json.RawMessage
	if trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode upstream response: %w", err)
		}
		if env.Success != nil && !*env.Success {
			return nil, &domain.UpstreamError{Message: ErrorMessage(env.Error)}
		}
		if len(env.Result) > 0 && !bytes.Equal(env.Result, []byte("null")) {
			payload = env.Result
		}
		topUsage = env.Usage
	}

	c := &Completion{}

	if payload[0] == '"' {
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("decode upstream text: %w", err)
		}
		c.setContent(s)
		c.Usage = decodeUsage(topUsage)
		return c, nil
	}

	var res resultPayload
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode upstream result: %w", err)
	}

	var explicitReasoning []string
	var content string
	var contentFound bool

	messages := make([]*upstreamMessage, 0, 2)
	if res.Message != nil {
		messages = append(messages, res.Message)
	}
	if len(res.Choices) > 0 && res.Choices[0].Message != nil {
		messages = append(messages, res.Choices[0].Message)
	}

	for _, m := range messages {
		text, reasoning, calls := decodeMessageContent(m.Content)
		if !contentFound && text != "" {
			content = text
			contentFound = true
		}
		explicitReasoning = append(explicitReasoning, reasoning...)
		explicitReasoning = append(explicitReasoning, messageReasoning(m)...)
		c.ToolCalls = append(c.ToolCalls, calls...)
		c.ToolCalls = append(c.ToolCalls, normalizeToolCalls(m.ToolCalls)...)
		if len(explicitReasoning) > 0 || len(c.ToolCalls) > 0 || contentFound {
			break
		}
	}
	if !contentFound && res.Text != nil {
		content = *res.Text
	}

	c.setContent(content)
	if len(explicitReasoning) > 0 {
		parts := explicitReasoning
		if c.Reasoning != "" {
			parts = append(parts, c.Reasoning)
		}
		c.Reasoning = strings.Join(parts, "\n")
	}

	c.Usage = decodeUsage(res.Usage)
	if c.Usage == nil {
		c.Usage = decodeUsage(topUsage)
	}

	for i := range c.ToolCalls {
		if c.ToolCalls[i].ID == "" {
			c.ToolCalls[i].ID = newToolCallID()
		}
	}

	return c, nil
}

// setContent strips inline think regions into Reasoning. Whitespace is kept
// as is so the result matches what the streaming path emits.
func (c *Completion) setContent(text string) {
	c.Content, c.Reasoning, _ = SplitThink(text)
}

func decodeMessageContent(raw json.RawMessage) (string, []string, []domain.ToolCall) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil, nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", nil, nil
		}
		return s, nil, nil
	case '[':
		var parts []rawPart
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return "", nil, nil
		}
		var texts, reasoning []string
		var calls []domain.ToolCall
		for _, p := range parts {
			switch p.Type {
			case "thinking", "reasoning":
				if t := firstNonEmpty(p.Thinking, p.Text); t != "" {
					reasoning = append(reasoning, t)
				}
			case "tool_use":
				calls = append(calls, domain.ToolCall{
					ID:       p.ID,
					Type:     "function",
					Function: domain.FunctionCall{Name: p.Name, Arguments: domain.ArgumentsString(p.Input)},
				})
			default:
				if p.Text != "" {
					texts = append(texts, p.Text)
				}
			}
		}
		return strings.Join(texts, ""), reasoning, calls
	}
	return "", nil, nil
}

func messageReasoning(m *upstreamMessage) []string {
	var out []string
	if m.Reasoning != nil && *m.Reasoning != "" {
		out = append(out, *m.Reasoning)
	} else if m.ReasoningContent != nil && *m.ReasoningContent != "" {
		out = append(out, *m.ReasoningContent)
	} else {
		for _, d := range m.ReasoningDetails {
			if d.Text != "" {
				out = append(out, d.Text)
			}
		}
	}
	return out
}

func normalizeToolCalls(raw []rawToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, 0, len(raw))
	for _, r := range raw {
		call := domain.ToolCall{ID: r.ID, Type: "function"}
		switch {
		case r.Function != nil:
			call.Function = *r.Function
		default:
			call.Function = domain.FunctionCall{Name: r.Name, Arguments: domain.ArgumentsString(r.Input)}
		}
		if call.Function.Arguments == "" {
			call.Function.Arguments = "{}"
		}
		out = append(out, call)
	}
	return out
}

func decodeUsage(raw json.RawMessage) *domain.Usage {
	if len(raw) == 0 {
		return nil
	}
	var u domain.UsageFields
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil
	}
	return u.Usage()
}

// ErrorMessage extracts a message from an upstream error value, which is
// either a string or an object with a message field.
func ErrorMessage(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "upstream request failed"
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil && s != "" {
		return s
	}

	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Code != "" {
			return obj.Code
		}
	}
	return string(trimmed)
}

// ErrorFromBody builds an UpstreamError for a non-2xx upstream response.
func ErrorFromBody(status int, body []byte) *domain.UpstreamError {
	trimmed := bytes.TrimSpace(body)
	msg := ""
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Error) > 0 {
			msg = ErrorMessage(env.Error)
		}
	}
	if msg == "" && len(trimmed) > 0 {
		msg = string(trimmed)
		if len(msg) > 512 {
			msg = msg[:512]
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("upstream returned status %d", status)
	}
	return &domain.UpstreamError{StatusCode: status, Message: msg}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// ToChatResponse renders a completion as an OpenAI chat.completion.
func ToChatResponse(c *Completion, id, model string, created int64, usage domain.Usage) *domain.ChatResponse {
	msg := &domain.ResponseMessage{
		Role:             "assistant",
		ReasoningContent: c.Reasoning,
		ToolCalls:        c.ToolCalls,
	}
	if c.Content != "" || len(c.ToolCalls) == 0 {
		content := c.Content
		msg.Content = &content
	}

	return &domain.ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: c.FinishReason(),
		}},
		Usage: usage,
	}
}
