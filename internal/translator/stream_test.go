package translator

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

func readAll(t *testing.T, body string) ([]Event, error) {
	t.Helper()
	r := NewStreamReader(strings.NewReader(body))
	var events []Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestStreamReader(t *testing.T) {
	body := strings.Join([]string{
		`{"type":"reasoning","reasoning":"step"}`,
		``,
		`{"type":"text","text":"hel"}`,
		`not json at all`,
		`{"type":"text","text":"lo"}`,
		`{"type":"tool_use","id":"t1","name":"f","input":{"a":1}}`,
		`{"type":"usage","usage":{"input_tokens":3,"output_tokens":4}}`,
		`%`,
	}, "\n")

	events, err := readAll(t, body)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	wantKinds := []EventKind{EventReasoning, EventText, EventText, EventToolUse, EventUsage}
	if len(events) != len(wantKinds) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantKinds), events)
	}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Errorf("events[%d].Kind = %v, want %v", i, events[i].Kind, k)
		}
	}

	if events[0].Text != "step" {
		t.Errorf("reasoning = %q, want step", events[0].Text)
	}
	if events[1].Text+events[2].Text != "hello" {
		t.Errorf("text = %q, want hello", events[1].Text+events[2].Text)
	}
	tc := events[3].ToolCall
	if tc.ID != "t1" || tc.Function.Name != "f" || tc.Function.Arguments != `{"a":1}` {
		t.Errorf("tool call = %+v", tc)
	}
	if u := events[4].Usage; u == nil || u.TotalTokens != 7 {
		t.Errorf("usage = %+v, want total 7", u)
	}
}

func TestStreamReader_NoTrailingNewline(t *testing.T) {
	events, err := readAll(t, `{"type":"text","text":"a"}`+"\n"+`{"type":"text","text":"b"}`)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(events) != 2 || events[1].Text != "b" {
		t.Errorf("events = %+v, want two text events", events)
	}
}

func TestStreamReader_MessageObject(t *testing.T) {
	body := `{"message":{"content":[{"type":"text","text":"full"}],"reasoning":"why"},"usage":{"prompt_tokens":1,"completion_tokens":1}}` + "\n"

	events, err := readAll(t, body)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].Kind != EventReasoning || events[0].Text != "why" {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].Kind != EventText || events[1].Text != "full" {
		t.Errorf("events[1] = %+v", events[1])
	}
	if events[2].Kind != EventUsage {
		t.Errorf("events[2] = %+v", events[2])
	}
}

func TestStreamReader_Failure(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"envelope", `{"success":false,"error":{"message":"usage-limited"}}`, "usage-limited"},
		{"bare error", `{"error":{"message":"Rate limit reached"}}`, "Rate limit reached"},
		{"error after text", `{"type":"text","text":"x"}` + "\n" + `{"type":"error","error":"boom"}`, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readAll(t, tt.body)
			var upErr *domain.UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("error = %v, want *UpstreamError", err)
			}
			if upErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", upErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestCompletionEvents(t *testing.T) {
	c := &Completion{
		Content:   "answer",
		Reasoning: "thought",
		ToolCalls: []domain.ToolCall{{ID: "c1", Type: "function", Function: domain.FunctionCall{Name: "f", Arguments: "{}"}}},
		Usage:     &domain.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}

	events := CompletionEvents(c)
	want := []EventKind{EventReasoning, EventText, EventToolUse, EventUsage}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, k := range want {
		if events[i].Kind != k {
			t.Errorf("events[%d].Kind = %v, want %v", i, events[i].Kind, k)
		}
	}
}
