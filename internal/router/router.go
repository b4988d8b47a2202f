// Package router maps client model identifiers to upstream drivers.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

const (
	DriverOpenAI     = "openai-completion"
	DriverClaude     = "claude"
	DriverDeepSeek   = "deepseek"
	DriverMistral    = "mistral"
	DriverGemini     = "gemini"
	DriverXAI        = "xai"
	DriverOpenRouter = "openrouter"
	DriverTogether   = "together-ai"

	DriverOpenAIImage   = "openai-image-generation"
	DriverTogetherImage = "together-image-generation"

	openRouterPrefix = "openrouter:"
	togetherPrefix   = "togetherai:"

	DefaultImageModel = "dall-e-3"
)

type target struct {
	driver string
	model  string
}

// Router resolves model identifiers. The zero value is not usable; use New.
type Router struct {
	chat       map[string]target
	openRouter map[string]string
	thinking   map[string]string
	images     map[string]target
}

func New() *Router {
	r := &Router{
		chat:       make(map[string]target),
		openRouter: make(map[string]string),
		thinking:   make(map[string]string),
		images:     make(map[string]target),
	}

	for _, m := range []string{
		"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano",
		"gpt-4-turbo", "gpt-4", "gpt-3.5-turbo", "o1", "o1-mini", "o3", "o3-mini", "o4-mini",
	} {
		r.chat[m] = target{DriverOpenAI, m}
	}

	claude := map[string]string{
		"claude-3-7-sonnet":        "claude-3-7-sonnet-20250219",
		"claude-3.7-sonnet":        "claude-3-7-sonnet-20250219",
		"claude-3-7-sonnet-latest": "claude-3-7-sonnet-20250219",
		"claude-3-5-sonnet":        "claude-3-5-sonnet-20241022",
		"claude-3.5-sonnet":        "claude-3-5-sonnet-20241022",
		"claude-3-5-sonnet-latest": "claude-3-5-sonnet-20241022",
		"claude-sonnet-4":          "claude-sonnet-4-20250514",
		"claude-opus-4":            "claude-opus-4-20250514",
		"claude-3-5-haiku":         "claude-3-5-haiku-20241022",
		"claude-3.5-haiku":         "claude-3-5-haiku-20241022",
		"claude-3-haiku":           "claude-3-haiku-20240307",
		"claude-3-opus":            "claude-3-opus-20240229",
	}
	for alias, dated := range claude {
		r.chat[alias] = target{DriverClaude, dated}
		r.chat[dated] = target{DriverClaude, dated}
	}

	r.openRouter = map[string]string{
		"claude-3-7-sonnet-20250219": "anthropic/claude-3.7-sonnet",
		"claude-3-5-sonnet-20241022": "anthropic/claude-3.5-sonnet",
		"claude-sonnet-4-20250514":   "anthropic/claude-sonnet-4",
		"claude-opus-4-20250514":     "anthropic/claude-opus-4",
		"claude-3-5-haiku-20241022":  "anthropic/claude-3.5-haiku",
		"claude-3-haiku-20240307":    "anthropic/claude-3-haiku",
		"claude-3-opus-20240229":     "anthropic/claude-3-opus",
	}

	r.thinking = map[string]string{
		"claude-3-7-sonnet-20250219": "anthropic/claude-3.7-sonnet:thinking",
	}

	for _, m := range []string{"deepseek-chat", "deepseek-reasoner"} {
		r.chat[m] = target{DriverDeepSeek, m}
	}
	r.chat["deepseek-v3"] = target{DriverDeepSeek, "deepseek-chat"}
	r.chat["deepseek-r1"] = target{DriverDeepSeek, "deepseek-reasoner"}

	for _, m := range []string{"mistral-large-latest", "mistral-small-latest", "codestral-latest", "pixtral-large-latest"} {
		r.chat[m] = target{DriverMistral, m}
	}
	r.chat["mistral-large"] = target{DriverMistral, "mistral-large-latest"}
	r.chat["mistral-small"] = target{DriverMistral, "mistral-small-latest"}

	for _, m := range []string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-2.5-flash", "gemini-2.5-pro"} {
		r.chat[m] = target{DriverGemini, m}
	}

	for _, m := range []string{"grok-beta", "grok-2", "grok-3", "grok-3-mini"} {
		r.chat[m] = target{DriverXAI, m}
	}

	for _, m := range []string{"dall-e-2", "dall-e-3", "gpt-image-1"} {
		r.images[m] = target{DriverOpenAIImage, m}
	}
	r.images["flux-schnell"] = target{DriverTogetherImage, "black-forest-labs/FLUX.1-schnell"}
	r.images["flux.1-schnell"] = target{DriverTogetherImage, "black-forest-labs/FLUX.1-schnell"}
	r.images["flux-1-schnell"] = target{DriverTogetherImage, "black-forest-labs/FLUX.1-schnell"}
	r.images["flux-schnell-free"] = target{DriverTogetherImage, "black-forest-labs/FLUX.1-schnell-Free"}
	r.images["flux.1-schnell-free"] = target{DriverTogetherImage, "black-forest-labs/FLUX.1-schnell-Free"}
	r.images["flux-dev"] = target{DriverTogetherImage, "black-forest-labs/FLUX.1-dev"}
	r.images["flux.1-dev"] = target{DriverTogetherImage, "black-forest-labs/FLUX.1-dev"}

	return r
}

func normalize(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

var multimodalDrivers = map[string]bool{
	DriverOpenAI:     true,
	DriverClaude:     true,
	DriverOpenRouter: true,
	DriverGemini:     true,
}

var reasoningDrivers = map[string]bool{
	DriverOpenRouter: true,
	DriverDeepSeek:   true,
}

func newRoute(driver, model, original string) domain.Route {
	return domain.Route{
		Driver:           driver,
		Model:            model,
		Provider:         ProviderTag(original),
		Multimodal:       multimodalDrivers[driver],
		IncludeReasoning: reasoningDrivers[driver],
	}
}

// Resolve maps a chat model identifier to its driver and upstream model.
// Claude models are moved to the openrouter driver when the request
// carries tools, since the direct Claude driver cannot run them.
func (r *Router) Resolve(model string, hasTools bool) domain.Route {
	trimmed := strings.TrimSpace(model)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, openRouterPrefix):
		return newRoute(DriverOpenRouter, trimmed, trimmed)
	case strings.HasPrefix(lower, togetherPrefix):
		return newRoute(DriverTogether, trimmed, trimmed)
	}

	if t, ok := r.chat[lower]; ok {
		if t.driver == DriverClaude && hasTools {
			return newRoute(DriverOpenRouter, openRouterPrefix+r.claudeSlug(t.model), trimmed)
		}
		return newRoute(t.driver, t.model, trimmed)
	}

	return newRoute(DriverOpenRouter, openRouterPrefix+guessSlug(trimmed), trimmed)
}

func (r *Router) claudeSlug(dated string) string {
	if slug, ok := r.openRouter[dated]; ok {
		return slug
	}
	return "anthropic/" + dated
}

var vendorPrefixes = []struct {
	prefix string
	vendor string
}{
	{"gpt-", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"o4", "openai"},
	{"claude", "anthropic"},
	{"gemini", "google"},
	{"gemma", "google"},
	{"llama", "meta-llama"},
	{"mistral", "mistralai"},
	{"mixtral", "mistralai"},
	{"codestral", "mistralai"},
	{"deepseek", "deepseek"},
	{"grok", "x-ai"},
	{"qwen", "qwen"},
}

// guessSlug turns a bare model name into a vendor/model OpenRouter slug.
func guessSlug(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	lower := strings.ToLower(model)
	for _, vp := range vendorPrefixes {
		if strings.HasPrefix(lower, vp.prefix) {
			return vp.vendor + "/" + lower
		}
	}
	return model
}

// ApplyThinking configures extended thinking for a resolved route. model is
// the client identifier. Models with a dedicated thinking variant switch to
// it; all others get reasoning enabled plus a system prelude asking for
// inline <think> tags.
func (r *Router) ApplyThinking(route domain.Route, model string, budget int) domain.Route {
	if budget <= 0 {
		return route
	}

	key := normalize(model)
	if t, ok := r.chat[key]; ok {
		key = t.model
	}
	if slug, ok := r.thinking[key]; ok {
		route.Driver = DriverOpenRouter
		route.Model = openRouterPrefix + slug
		route.Multimodal = multimodalDrivers[DriverOpenRouter]
		route.IncludeReasoning = true
		route.Thinking = &domain.Thinking{Type: "enabled", BudgetTokens: budget}
		return route
	}

	route.IncludeReasoning = true
	route.SystemPrelude = thinkingPrelude(budget)
	return route
}

func thinkingPrelude(budget int) string {
	words := budget * 3 / 4
	if words < 50 {
		words = 50
	}
	return fmt.Sprintf("Before answering, think through the problem step by step. "+
		"Put all of your reasoning inside <think></think> tags at the start of your reply, "+
		"then give the final answer after the closing </think> tag. "+
		"Keep the reasoning under roughly %d words.", words)
}

// ResolveImage maps an image model identifier to its generation driver.
func (r *Router) ResolveImage(model string) domain.Route {
	trimmed := strings.TrimSpace(model)
	if trimmed == "" {
		trimmed = DefaultImageModel
	}
	key := normalizeImage(trimmed)

	if t, ok := r.images[key]; ok {
		return domain.Route{Driver: t.driver, Model: t.model, Provider: imageProvider(t.driver)}
	}

	lower := strings.ToLower(trimmed)
	for _, p := range []string{togetherPrefix, "together:"} {
		if strings.HasPrefix(lower, p) {
			return domain.Route{Driver: DriverTogetherImage, Model: trimmed[len(p):], Provider: "togetherai"}
		}
	}
	if strings.Contains(trimmed, "/") {
		return domain.Route{Driver: DriverTogetherImage, Model: trimmed, Provider: "togetherai"}
	}
	return domain.Route{Driver: DriverOpenAIImage, Model: trimmed, Provider: "openai"}
}

var imageVendorPrefixes = []string{togetherPrefix, "together:", "openai/", "openai:", "black-forest-labs/"}

func normalizeImage(model string) string {
	key := normalize(model)
	for _, p := range imageVendorPrefixes {
		key = strings.TrimPrefix(key, p)
	}
	return key
}

func imageProvider(driver string) string {
	if driver == DriverTogetherImage {
		return "togetherai"
	}
	return "openai"
}

// ProviderTag labels a model identifier for logs and usage records.
func ProviderTag(model string) string {
	lower := normalize(model)
	switch {
	case strings.HasPrefix(lower, openRouterPrefix):
		return "openrouter"
	case strings.HasPrefix(lower, togetherPrefix):
		return "togetherai"
	}
	for _, vp := range vendorPrefixes {
		if strings.HasPrefix(lower, vp.prefix) {
			switch vp.vendor {
			case "x-ai":
				return "xai"
			case "meta-llama":
				return "meta"
			case "mistralai":
				return "mistral"
			}
			return vp.vendor
		}
	}
	return "openrouter"
}

// Models lists the chat aliases the router knows, sorted by id.
func (r *Router) Models() []domain.Model {
	models := make([]domain.Model, 0, len(r.chat))
	for id := range r.chat {
		models = append(models, domain.Model{
			ID:      id,
			Object:  "model",
			OwnedBy: ProviderTag(id),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models
}
