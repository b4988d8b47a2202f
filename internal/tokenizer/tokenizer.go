// Package tokenizer estimates token counts when the upstream reports no usage.
package tokenizer

import (
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator returns an approximate token count for text produced by model.
type Estimator interface {
	Estimate(text, model string) int
}

// CharEstimator counts one token per four characters, rounded up.
type CharEstimator struct{}

func (CharEstimator) Estimate(text, model string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

const (
	EncodingCL100kBase = "cl100k_base"
	EncodingO200kBase  = "o200k_base"
)

type modelEncoding struct {
	prefix   string
	encoding string
}

// Longer prefixes first.
var modelEncodings = []modelEncoding{
	{"gpt-4o", EncodingO200kBase},
	{"gpt-4.1", EncodingO200kBase},
	{"gpt-3.5", EncodingCL100kBase},
	{"gpt-4", EncodingCL100kBase},
	{"o1", EncodingO200kBase},
	{"o3", EncodingO200kBase},
	{"o4", EncodingO200kBase},
}

// TiktokenEstimator counts BPE tokens with tiktoken. Models without a known
// encoding use cl100k_base. Encoding failures fall back to CharEstimator.
type TiktokenEstimator struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
	fallback  CharEstimator
}

func NewTiktoken() *TiktokenEstimator {
	return &TiktokenEstimator{encodings: make(map[string]*tiktoken.Tiktoken)}
}

func resolveEncoding(model string) string {
	lower := strings.ToLower(model)
	if i := strings.LastIndex(lower, "/"); i >= 0 {
		lower = lower[i+1:]
	}
	for _, me := range modelEncodings {
		if strings.HasPrefix(lower, me.prefix) {
			return me.encoding
		}
	}
	return EncodingCL100kBase
}

func (t *TiktokenEstimator) encoding(model string) (*tiktoken.Tiktoken, error) {
	name := resolveEncoding(model)

	t.mu.RLock()
	enc, ok := t.encodings[name]
	t.mu.RUnlock()
	if ok {
		return enc, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok = t.encodings[name]; ok {
		return enc, nil
	}

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	t.encodings[name] = enc
	return enc, nil
}

func (t *TiktokenEstimator) Estimate(text, model string) int {
	if text == "" {
		return 0
	}
	enc, err := t.encoding(model)
	if err != nil {
		slog.Debug("tiktoken encoding unavailable", "model", model, "error", err)
		return t.fallback.Estimate(text, model)
	}
	return len(enc.Encode(text, nil, nil))
}

// New returns the estimator named by kind ("tiktoken" or "chars").
func New(kind string) Estimator {
	if strings.EqualFold(kind, "tiktoken") {
		return NewTiktoken()
	}
	return CharEstimator{}
}
