package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

var errStreamingUnsupported = errors.New("streaming not supported")

// sseSink writes chat.completion.chunk frames as server-sent events.
// Headers are committed on Open.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	opened  bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	flusher, _ := w.(http.Flusher)
	return &sseSink{w: w, flusher: flusher}
}

func (s *sseSink) Open() error {
	if s.flusher == nil {
		return errStreamingUnsupported
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
	s.opened = true
	return nil
}

func (s *sseSink) Send(chunk domain.StreamChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	return s.write(data)
}

func (s *sseSink) SendError(err error) error {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    "api_error",
		},
	})
	return s.write(data)
}

func (s *sseSink) Close() error {
	return s.write([]byte("[DONE]"))
}

func (s *sseSink) write(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
