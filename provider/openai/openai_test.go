package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tveshas/quizagent/internal/capability"
	"github.com/tveshas/quizagent/internal/solver"
)

func testServer(t *testing.T, reply string, capture *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", got)
		}
		if capture != nil {
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode request: %v", err)
			}
			*capture = body
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
}

func scrapeSpec() capability.Spec {
	return capability.Spec{
		Name:        "scrape_url",
		Description: "Scrape a URL",
		Fields: []capability.Field{
			{Name: "url", Type: capability.TypeString, Description: "target", Required: true},
		},
	}
}

func TestReasonFinalAnswer(t *testing.T) {
	var captured map[string]interface{}
	srv := testServer(t, `{
		"choices": [{"message": {"content": "The answer is 42"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 100, "completion_tokens": 10, "total_tokens": 110}
	}`, &captured)
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "gpt-4o-mini", 0.1, 2000, 5*time.Second)
	reply, err := c.Reason(context.Background(), solver.ReasoningRequest{
		QuizURL: "https://q.example/1",
		History: []solver.Turn{{Role: "user", Content: "How many?"}},
		Tools:   []capability.Spec{scrapeSpec()},
	})
	if err != nil {
		t.Fatalf("Reason: %v", err)
	}
	if reply.IsToolCall() {
		t.Fatalf("expected final answer, got tool calls")
	}
	if reply.Answer == nil || reply.Answer.Kind != solver.AnswerNumber || reply.Answer.Number != 42 {
		t.Fatalf("expected parsed number 42, got %+v", reply.Answer)
	}
	if reply.Tokens != 110 {
		t.Fatalf("tokens = %d, want 110", reply.Tokens)
	}
	if reply.Cost <= 0 {
		t.Fatalf("expected positive cost estimate for known model")
	}

	// The wire request carries the system prompt, the framed user turn and
	// the tool definitions.
	msgs := captured["messages"].([]interface{})
	first := msgs[0].(map[string]interface{})
	if first["role"] != "system" {
		t.Fatalf("first message role = %v", first["role"])
	}
	second := msgs[1].(map[string]interface{})
	content := second["content"].(string)
	if !strings.Contains(content, "https://q.example/1") || !strings.Contains(content, "How many?") {
		t.Fatalf("user framing missing: %q", content)
	}
	tools := captured["tools"].([]interface{})
	if len(tools) != 1 {
		t.Fatalf("tools = %d, want 1", len(tools))
	}
	if captured["tool_choice"] != "auto" {
		t.Fatalf("tool_choice = %v", captured["tool_choice"])
	}
}

func TestReasonToolCall(t *testing.T) {
	srv := testServer(t, `{
		"choices": [{"message": {"content": "", "tool_calls": [
			{"id": "call_1", "type": "function", "function": {"name": "scrape_url", "arguments": "{\"url\": \"https://data.example\"}"}}
		]}, "finish_reason": "tool_calls"}],
		"usage": {"total_tokens": 50}
	}`, nil)
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "gpt-4o-mini", 0.1, 2000, 5*time.Second)
	reply, err := c.Reason(context.Background(), solver.ReasoningRequest{
		QuizURL: "https://q.example/1",
		History: []solver.Turn{{Role: "user", Content: "Scrape it"}},
		Tools:   []capability.Spec{scrapeSpec()},
	})
	if err != nil {
		t.Fatalf("Reason: %v", err)
	}
	if !reply.IsToolCall() {
		t.Fatalf("expected tool call reply")
	}
	call := reply.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "scrape_url" {
		t.Fatalf("unexpected call %+v", call)
	}
	if call.Args["url"] != "https://data.example" {
		t.Fatalf("args not decoded: %+v", call.Args)
	}
}

func TestReasonRoundTripsToolHistory(t *testing.T) {
	var captured map[string]interface{}
	srv := testServer(t, `{
		"choices": [{"message": {"content": "done"}}],
		"usage": {"total_tokens": 5}
	}`, &captured)
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "gpt-4o-mini", 0.1, 2000, 5*time.Second)
	_, err := c.Reason(context.Background(), solver.ReasoningRequest{
		QuizURL: "https://q.example/1",
		History: []solver.Turn{
			{Role: "user", Content: "Count rows"},
			{Role: "assistant", ToolCall: &capability.Call{ID: "c1", Name: "scrape_url", Args: map[string]interface{}{"url": "https://d.example"}}},
			{Role: "tool", ToolCallID: "c1", ToolName: "scrape_url", Content: `{"text":"rows"}`},
		},
	})
	if err != nil {
		t.Fatalf("Reason: %v", err)
	}

	msgs := captured["messages"].([]interface{})
	// system + user + assistant tool call + tool result
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	assistant := msgs[2].(map[string]interface{})
	calls := assistant["tool_calls"].([]interface{})
	fn := calls[0].(map[string]interface{})["function"].(map[string]interface{})
	if fn["name"] != "scrape_url" {
		t.Fatalf("assistant tool call lost: %v", assistant)
	}
	toolMsg := msgs[3].(map[string]interface{})
	if toolMsg["role"] != "tool" || toolMsg["tool_call_id"] != "c1" {
		t.Fatalf("tool turn malformed: %v", toolMsg)
	}
}

func TestReasonHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "gpt-4o-mini", 0.1, 2000, 5*time.Second)
	_, err := c.Reason(context.Background(), solver.ReasoningRequest{
		History: []solver.Turn{{Role: "user", Content: "x"}},
	})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}
