// Package translator converts between the OpenAI chat wire format and the
// upstream driver-call format, in both batched and streamed form.
package translator

import (
	"encoding/json"
	"strings"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

// EmptyToolResult replaces the content of tool messages that carry none.
const EmptyToolResult = "(empty result)"

// SanitizeMessages normalizes client messages for the upstream. Part lists
// are flattened to newline-joined text unless multimodal is set and the
// list carries an image or file part. Empty messages are dropped except
// tool results and assistant messages that carry tool calls.
func SanitizeMessages(messages []domain.Message, multimodal bool) []domain.Message {
	out := make([]domain.Message, 0, len(messages))

	for _, m := range messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role == "developer" {
			role = "system"
		}

		switch {
		case role == "tool":
			text := FlattenContent(m.Content)
			if strings.TrimSpace(text) == "" {
				text = EmptyToolResult
			}
			out = append(out, domain.Message{
				Role:       "tool",
				Content:    domain.TextContent(text),
				ToolCallID: m.ToolCallID,
				Name:       m.Name,
			})

		case role == "assistant" && len(m.ToolCalls) > 0:
			msg := domain.Message{Role: "assistant", ToolCalls: normalizeRequestToolCalls(m.ToolCalls)}
			if text := FlattenContent(m.Content); text != "" {
				msg.Content = domain.TextContent(text)
			}
			out = append(out, msg)

		default:
			content, ok := sanitizeContent(m.Content, multimodal)
			if !ok {
				continue
			}
			msg := domain.Message{Role: role, Content: content}
			if m.Name != "" {
				msg.Name = m.Name
			}
			out = append(out, msg)
		}
	}

	return out
}

func sanitizeContent(c domain.Content, multimodal bool) (domain.Content, bool) {
	if c.IsParts() && multimodal && hasMedia(c.Parts) {
		parts := rewriteMediaParts(c.Parts)
		if len(parts) == 0 {
			return domain.Content{}, false
		}
		return domain.PartsContent(parts...), true
	}

	text := FlattenContent(c)
	if strings.TrimSpace(text) == "" {
		return domain.Content{}, false
	}
	return domain.TextContent(text), true
}

// FlattenContent joins the textual parts of c with newlines. tool_use
// parts are skipped and tool_result parts are flattened recursively.
func FlattenContent(c domain.Content) string {
	if c.Text != nil {
		return *c.Text
	}
	if c.Parts == nil {
		return ""
	}

	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case "text", "input_text", "output_text":
			texts = append(texts, p.Text)
		case "tool_result":
			if p.Content != nil {
				texts = append(texts, FlattenContent(*p.Content))
			} else {
				texts = append(texts, p.Text)
			}
		}
	}
	return strings.Join(texts, "\n")
}

func hasMedia(parts []domain.ContentPart) bool {
	for _, p := range parts {
		switch p.Type {
		case "image", "image_url", "file":
			return true
		}
	}
	return false
}

// rewriteMediaParts keeps the part structure, converting image parts to the
// image_url form.
func rewriteMediaParts(parts []domain.ContentPart) []domain.ContentPart {
	out := make([]domain.ContentPart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "tool_use":
			continue
		case "tool_result":
			text := FlattenContent(derefContent(p.Content))
			if text == "" {
				text = p.Text
			}
			out = append(out, domain.ContentPart{Type: "text", Text: text})
		case "image":
			if url := imagePartURL(p); url != "" {
				out = append(out, domain.ContentPart{Type: "image_url", ImageURL: &domain.ImageURL{URL: url}})
			}
		case "text", "input_text", "output_text":
			out = append(out, domain.ContentPart{Type: "text", Text: p.Text})
		default:
			out = append(out, p)
		}
	}
	return out
}

func derefContent(c *domain.Content) domain.Content {
	if c == nil {
		return domain.Content{}
	}
	return *c
}

// imagePartURL extracts a URL from the image part shapes clients send:
// {image: "url"}, {image: {url}}, {image_url: {url}} and the Anthropic
// {source: {type: base64|url}} form.
func imagePartURL(p domain.ContentPart) string {
	if p.ImageURL != nil && p.ImageURL.URL != "" {
		return p.ImageURL.URL
	}
	if len(p.Image) > 0 {
		var s string
		if err := json.Unmarshal(p.Image, &s); err == nil && s != "" {
			return s
		}
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(p.Image, &obj); err == nil && obj.URL != "" {
			return obj.URL
		}
	}
	if p.Source != nil {
		switch p.Source.Type {
		case "base64":
			mediaType := p.Source.MediaType
			if mediaType == "" {
				mediaType = "image/png"
			}
			return "data:" + mediaType + ";base64," + p.Source.Data
		case "url":
			return p.Source.URL
		}
	}
	return ""
}

func normalizeRequestToolCalls(calls []domain.ToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, 0, len(calls))
	for _, c := range calls {
		call := domain.ToolCall{
			ID:       c.ID,
			Type:     "function",
			Function: domain.FunctionCall{Name: c.Function.Name, Arguments: c.Function.Arguments},
		}
		if call.Function.Arguments == "" {
			call.Function.Arguments = "{}"
		}
		out = append(out, call)
	}
	return out
}
