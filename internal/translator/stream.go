package translator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

type EventKind int

const (
	EventText EventKind = iota
	EventReasoning
	EventToolUse
	EventUsage
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventReasoning:
		return "reasoning"
	case EventToolUse:
		return "tool_use"
	case EventUsage:
		return "usage"
	}
	return "unknown"
}

// Event is one decoded item of the upstream stream.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall domain.ToolCall
	Usage    *domain.Usage
}

type streamLine struct {
	Type      string           `json:"type"`
	Text      *string          `json:"text"`
	Reasoning *string          `json:"reasoning"`
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Input     json.RawMessage  `json:"input"`
	Message   *upstreamMessage `json:"message"`
	Usage     json.RawMessage  `json:"usage"`
	Success   *bool            `json:"success"`
	Error     json.RawMessage  `json:"error"`
}

// EventStream yields upstream events until io.EOF. Close releases the
// underlying response.
type EventStream interface {
	Next() (Event, error)
	Close() error
}

// StreamReader decodes the upstream newline-delimited JSON stream. Blank
// lines, the trailing "%" sentinel and lines that are not JSON are skipped.
type StreamReader struct {
	r       *bufio.Reader
	pending []Event
	done    bool
}

func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: bufio.NewReaderSize(r, 16*1024)}
}

// Next returns the next event, io.EOF at the end of the stream, or a
// *domain.UpstreamError when the stream reports a failure.
func (s *StreamReader) Next() (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return Event{}, io.EOF
		}

		line, err := s.r.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Event{}, err
			}
			s.done = true
		}

		events, perr := decodeLine(line)
		if perr != nil {
			return Event{}, perr
		}
		s.pending = append(s.pending, events...)
	}
}

func decodeLine(line []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("%")) {
		return nil, nil
	}

	var l streamLine
	if err := json.Unmarshal(trimmed, &l); err != nil {
		slog.Debug("skipping undecodable stream line", "error", err, "bytes", len(trimmed))
		return nil, nil
	}

	if (l.Success != nil && !*l.Success) || (l.Type == "" && len(l.Error) > 0 && !bytes.Equal(l.Error, []byte("null"))) || l.Type == "error" {
		return nil, &domain.UpstreamError{Message: ErrorMessage(l.Error)}
	}

	var events []Event
	switch l.Type {
	case "text":
		if l.Text != nil && *l.Text != "" {
			events = append(events, Event{Kind: EventText, Text: *l.Text})
		}
	case "reasoning", "thinking":
		text := ""
		if l.Reasoning != nil {
			text = *l.Reasoning
		} else if l.Text != nil {
			text = *l.Text
		}
		if text != "" {
			events = append(events, Event{Kind: EventReasoning, Text: text})
		}
	case "tool_use":
		events = append(events, Event{Kind: EventToolUse, ToolCall: domain.ToolCall{
			ID:       l.ID,
			Type:     "function",
			Function: domain.FunctionCall{Name: l.Name, Arguments: domain.ArgumentsString(l.Input)},
		}})
	default:
		if l.Message != nil {
			events = append(events, messageEvents(l.Message)...)
		}
	}

	if u := decodeUsage(l.Usage); u != nil {
		events = append(events, Event{Kind: EventUsage, Usage: u})
	}
	return events, nil
}

func messageEvents(m *upstreamMessage) []Event {
	var events []Event
	text, reasoning, calls := decodeMessageContent(m.Content)
	reasoning = append(reasoning, messageReasoning(m)...)
	for _, r := range reasoning {
		events = append(events, Event{Kind: EventReasoning, Text: r})
	}
	if text != "" {
		events = append(events, Event{Kind: EventText, Text: text})
	}
	calls = append(calls, normalizeToolCalls(m.ToolCalls)...)
	for _, c := range calls {
		events = append(events, Event{Kind: EventToolUse, ToolCall: c})
	}
	return events
}

// CompletionEvents replays a parsed completion as stream events.
func CompletionEvents(c *Completion) []Event {
	var events []Event
	if c.Reasoning != "" {
		events = append(events, Event{Kind: EventReasoning, Text: c.Reasoning})
	}
	if c.Content != "" {
		events = append(events, Event{Kind: EventText, Text: c.Content})
	}
	for _, tc := range c.ToolCalls {
		events = append(events, Event{Kind: EventToolUse, ToolCall: tc})
	}
	if c.Usage != nil {
		events = append(events, Event{Kind: EventUsage, Usage: c.Usage})
	}
	return events
}
