package translator

import (
	"encoding/json"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

const (
	ChatInterface  = "puter-chat-completion"
	ImageInterface = "puter-image-generation"
	ChatMethod     = "complete"
	ImageMethod    = "generate"
)

// ChatArgs is the args object of a chat driver call.
type ChatArgs struct {
	Messages         []domain.Message `json:"messages"`
	Model            string           `json:"model"`
	MaxTokens        *int             `json:"max_tokens,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
	Tools            json.RawMessage  `json:"tools,omitempty"`
	ToolChoice       json.RawMessage  `json:"tool_choice,omitempty"`
	Stream           bool             `json:"stream,omitempty"`
	IncludeReasoning bool             `json:"include_reasoning,omitempty"`
	Thinking         *domain.Thinking `json:"thinking,omitempty"`
}

// BuildChatCall assembles the chat envelope for a resolved route. The route's
// system prelude, when set, becomes the first message.
func BuildChatCall(route domain.Route, req *domain.ChatRequest) domain.UpstreamCall {
	messages := SanitizeMessages(req.Messages, route.Multimodal)
	if route.SystemPrelude != "" {
		prelude := domain.Message{Role: "system", Content: domain.TextContent(route.SystemPrelude)}
		messages = append([]domain.Message{prelude}, messages...)
	}

	args := ChatArgs{
		Messages:         messages,
		Model:            route.Model,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		Stream:           req.Stream,
		IncludeReasoning: route.IncludeReasoning,
		Thinking:         route.Thinking,
	}
	if req.HasTools() {
		args.Tools = req.Tools
		if len(req.ToolChoice) > 0 {
			args.ToolChoice = req.ToolChoice
		}
	}

	return domain.UpstreamCall{
		Interface: ChatInterface,
		Driver:    route.Driver,
		Method:    ChatMethod,
		Args:      args,
	}
}

// ImageArgs is the args object of an image generation call.
type ImageArgs struct {
	Prompt     string `json:"prompt"`
	Model      string `json:"model"`
	Size       string `json:"size,omitempty"`
	Quality    string `json:"quality,omitempty"`
	N          int    `json:"n,omitempty"`
	Style      string `json:"style,omitempty"`
	InputImage string `json:"input_image,omitempty"`
}

// BuildImageCall assembles the image generation envelope. inputImage is
// base64 without a data-URL prefix, or empty.
func BuildImageCall(route domain.Route, req *domain.ImageRequest, inputImage string) domain.UpstreamCall {
	return domain.UpstreamCall{
		Interface: ImageInterface,
		Driver:    route.Driver,
		Method:    ImageMethod,
		Args: ImageArgs{
			Prompt:     req.Prompt,
			Model:      route.Model,
			Size:       req.Size,
			Quality:    req.Quality,
			N:          req.N,
			Style:      req.Style,
			InputImage: inputImage,
		},
	}
}

// PromptText concatenates the textual content of messages, for usage
// estimates.
func PromptText(messages []domain.Message) string {
	var total []byte
	for _, m := range messages {
		total = append(total, FlattenContent(m.Content)...)
		total = append(total, '\n')
	}
	return string(total)
}
