package translator

import (
	"encoding/json"
	"errors"
	"testing"

	"chatrelay/internal/models"
	"chatrelay/internal/provider"
)

func TestChatRequest_Decode(t *testing.T) {
	body := `{
		"provider": " Claude ",
		"model": "claude-3-haiku-20240307",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": [{"type": "text", "text": "hel"}, {"type": "text", "text": "lo"}]}
		],
		"temperature": 0.2,
		"session_id": "session_1",
		"stream": true,
		"options": {"max_tokens": 300, "functions": [{"name": "lookup"}]}
	}`

	var req ChatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !req.Stream || req.Provider != "claude" {
		t.Fatalf("request: got %+v", req)
	}

	out := req.ToRouter()
	if out.MaxTokens != 300 || out.SessionID != "session_1" || *out.Temperature != 0.2 {
		t.Fatalf("router request: got %+v", out)
	}
	if len(out.Messages) != 2 || out.Messages[1].Content != "hello" || out.Messages[1].Role != models.RoleUser {
		t.Fatalf("messages: got %+v", out.Messages)
	}
	if string(out.Functions) != `[{"name": "lookup"}]` {
		t.Fatalf("functions: got %s", out.Functions)
	}
}

func TestChatRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"no messages", `{"messages": []}`, errEmptyMessages},
		{"bad role", `{"messages": [{"role": "tool", "content": "x"}]}`, errInvalidRole},
		{"image segment", `{"messages": [{"role": "user", "content": [{"type": "image_url"}]}]}`, errInvalidContent},
		{"missing content", `{"messages": [{"role": "user"}]}`, errInvalidContent},
		{"temperature", `{"messages": [{"role": "user", "content": "x"}], "temperature": 2.5}`, errInvalidSampling},
		{"budget", `{"messages": [{"role": "user", "content": "x"}], "options": {"max_tokens": -1}}`, errInvalidBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ChatRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFromResponse_Success(t *testing.T) {
	resp := models.Success("hello", json.RawMessage(`{"id":"x"}`), models.Metadata{
		Model: "gpt-4o-mini",
		Usage: models.Usage{TotalTokens: 12},
	})
	raw, err := json.Marshal(FromResponse(resp, "session_1"))
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["ok"] != true || got["reply"] != "hello" || got["session_id"] != "session_1" {
		t.Fatalf("body: %s", raw)
	}
	if v, present := got["error"]; !present || v != nil {
		t.Fatalf("error must be null: %s", raw)
	}
	meta := got["metadata"].(map[string]any)
	usage := meta["usage"].(map[string]any)
	if meta["model"] != "gpt-4o-mini" || usage["total_tokens"] != float64(12) {
		t.Fatalf("metadata: %s", raw)
	}
}

func TestFromResponse_Failure(t *testing.T) {
	out := FromResponse(models.Failure(provider.NotConfiguredMessage, nil, provider.ErrConfiguration), "")
	if out.OK || out.Error == nil || *out.Error != provider.NotConfiguredMessage {
		t.Fatalf("response: got %+v", out)
	}
	if string(out.Raw) != "null" {
		t.Fatalf("raw: got %s", out.Raw)
	}
}

func TestFromEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   models.StreamEvent
		want string
	}{
		{"progress", models.StreamEvent{Token: "Hel", Content: "Hel"}, `{"token":"Hel","content":"Hel","done":false}`},
		{"terminal", models.StreamEvent{Done: true, Content: "Hello"}, `{"content":"Hello","done":true,"session_id":"s1"}`},
		{"error", models.StreamEvent{Done: true, Error: "boom"}, `{"error":"boom","done":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(FromEvent(tt.ev, "s1"))
			if err != nil {
				t.Fatal(err)
			}
			if string(raw) != tt.want {
				t.Fatalf("got %s, want %s", raw, tt.want)
			}
		})
	}
}
