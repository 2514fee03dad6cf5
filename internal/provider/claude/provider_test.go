package claude

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	"chatrelay/internal/transport"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(provider.Settings{APIKey: "ant-key", BaseURL: srv.URL}, transport.NewWithHTTPClient(srv.Client()))
}

func TestChat_Success(t *testing.T) {
	var captured messagePayload
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "ant-key" {
			t.Errorf("x-api-key: got %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != apiVersion {
			t.Errorf("anthropic-version: got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{
			"id":"msg_1","type":"message","model":"claude-3-haiku-20240307",
			"content":[{"type":"text","text":"Bonjour"}],
			"stop_reason":"end_turn",
			"usage":{"input_tokens":7,"output_tokens":3}
		}`))
	})

	resp := p.Chat(context.Background(), []models.Message{
		{Role: models.RoleSystem, Content: "Be brief."},
		{Role: models.RoleUser, Content: "Say hello in French"},
	}, models.ChatOptions{})

	if !resp.Success || resp.Content != "Bonjour" {
		t.Fatalf("got %+v", resp)
	}
	want := models.Metadata{
		Model:        "claude-3-haiku-20240307",
		FinishReason: "end_turn",
		Usage:        models.Usage{InputTokens: 7, OutputTokens: 3, TotalTokens: 10},
	}
	if resp.Metadata != want {
		t.Fatalf("metadata: got %+v, want %+v", resp.Metadata, want)
	}

	if captured.System != "Be brief." {
		t.Fatalf("system: got %q", captured.System)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Fatalf("messages: got %+v", captured.Messages)
	}
	if captured.MaxTokens != defaultMaxTokens || captured.Model != defaultModel {
		t.Fatalf("defaults: got %+v", captured)
	}
}

func TestChat_VendorError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens: field required"}}`))
	})

	resp := p.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, models.ChatOptions{})
	if resp.Success || resp.ErrorMessage != "max_tokens: field required" {
		t.Fatalf("got %+v", resp)
	}
	if !errors.Is(resp.Err, provider.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", resp.Err)
	}
}

func TestChat_AnthropicPlaceholderIsUnavailable(t *testing.T) {
	p := New(provider.Settings{APIKey: "put_anthropic_api_key_here"}, nil)
	if p.IsAvailable() {
		t.Fatal("expected placeholder key to be unavailable")
	}
	resp := p.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, models.ChatOptions{})
	if resp.ErrorMessage != provider.NotConfiguredMessage {
		t.Fatalf("message: got %q", resp.ErrorMessage)
	}
}

func TestStreamChat_Simulated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"type":"text","text":"Hello, world!"}]}`))
	}))
	t.Cleanup(srv.Close)
	p := New(provider.Settings{APIKey: "ant-key", BaseURL: srv.URL, StreamDelay: 0}, transport.NewWithHTTPClient(srv.Client()))

	var events []models.StreamEvent
	for ev := range p.StreamChat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, models.ChatOptions{}) {
		events = append(events, ev)
	}

	// ceil(13/5) slices plus the terminal event.
	if len(events) != 4 {
		t.Fatalf("events: got %+v", events)
	}
	if events[0].Token != "Hello" || events[2].Token != "ld!" {
		t.Fatalf("slices: got %+v", events[:3])
	}
	if last := events[3]; !last.Done || last.Content != "Hello, world!" {
		t.Fatalf("terminal: got %+v", last)
	}
}
