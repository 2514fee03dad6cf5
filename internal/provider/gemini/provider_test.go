package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	"chatrelay/internal/transport"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(provider.Settings{APIKey: "g-key", BaseURL: srv.URL}, transport.NewWithHTTPClient(srv.Client()))
}

func TestChat_RoleMappingAndKey(t *testing.T) {
	var captured generateRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-1.5-pro:generateContent" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "g-key" {
			t.Errorf("key: got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[{"text":"42"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":1,"totalTokenCount":10},
			"modelVersion":"gemini-1.5-pro-002"
		}`))
	})

	temp := 0.3
	resp := p.Chat(context.Background(), []models.Message{
		{Role: models.RoleSystem, Content: "Answer with a number."},
		{Role: models.RoleUser, Content: "What is six times seven?"},
		{Role: models.RoleAssistant, Content: "Let me think."},
		{Role: models.RoleUser, Content: "Go on."},
	}, models.ChatOptions{Model: "gemini-1.5-pro", Temperature: &temp})

	if !resp.Success || resp.Content != "42" {
		t.Fatalf("got %+v", resp)
	}
	want := models.Metadata{
		Model:        "gemini-1.5-pro-002",
		FinishReason: "STOP",
		Usage:        models.Usage{InputTokens: 9, OutputTokens: 1, TotalTokens: 10},
	}
	if resp.Metadata != want {
		t.Fatalf("metadata: got %+v, want %+v", resp.Metadata, want)
	}

	roles := make([]string, 0, len(captured.Contents))
	for _, c := range captured.Contents {
		roles = append(roles, c.Role)
	}
	if got := strings.Join(roles, ","); got != "user,model,user" {
		t.Fatalf("roles: got %s", got)
	}
	if captured.Contents[0].Parts[0].Text != "What is six times seven?" {
		t.Fatalf("parts: got %+v", captured.Contents[0])
	}
	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "Answer with a number." {
		t.Fatalf("systemInstruction: got %+v", captured.SystemInstruction)
	}
	if cfg := captured.GenerationConfig; cfg == nil || cfg.Temperature == nil || *cfg.Temperature != 0.3 {
		t.Fatalf("generationConfig: got %+v", cfg)
	}
}

func TestChat_DefaultsModelWhenVersionMissing(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/gemini-1.5-flash:generateContent") {
			t.Errorf("path: got %q", r.URL.Path)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	})

	resp := p.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, models.ChatOptions{})
	if !resp.Success || resp.Metadata.Model != defaultModel {
		t.Fatalf("got %+v", resp)
	}
}

func TestChat_VendorError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`))
	})

	resp := p.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, models.ChatOptions{})
	if resp.Success || resp.ErrorMessage != "API key not valid. Please pass a valid API key." {
		t.Fatalf("got %+v", resp)
	}
	if !errors.Is(resp.Err, provider.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", resp.Err)
	}
}

func TestChat_TransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := New(provider.Settings{APIKey: "secret-key", BaseURL: url}, transport.New(transport.Options{}))
	resp := p.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, models.ChatOptions{})
	if resp.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(resp.Err, provider.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", resp.Err)
	}
	if strings.Contains(resp.ErrorMessage, "secret-key") {
		t.Fatalf("error leaks the key: %q", resp.ErrorMessage)
	}
}

// countingClient fails the test on any network use.
type countingClient struct {
	calls int
}

func (c *countingClient) PostJSON(context.Context, string, any, map[string]string) (*transport.Response, error) {
	c.calls++
	return nil, errors.New("unexpected call")
}

func (c *countingClient) PostStream(context.Context, string, any, map[string]string) (*transport.StreamResponse, error) {
	c.calls++
	return nil, errors.New("unexpected call")
}

func TestChat_NoNetworkWhenRejected(t *testing.T) {
	hi := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	tests := []struct {
		name      string
		key       string
		messages  []models.Message
		want      error
		available bool
	}{
		{name: "empty messages", key: "g-key", want: provider.ErrValidation, available: true},
		{name: "placeholder key", key: "put_gemini_api_key_here", messages: hi, want: provider.ErrConfiguration},
		{name: "missing key", key: "", messages: hi, want: provider.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &countingClient{}
			p := New(provider.Settings{APIKey: tt.key}, client)
			if p.IsAvailable() != tt.available {
				t.Fatalf("available: got %v", p.IsAvailable())
			}

			resp := p.Chat(context.Background(), tt.messages, models.ChatOptions{})
			if resp.Success || !errors.Is(resp.Err, tt.want) {
				t.Fatalf("expected %v, got %+v", tt.want, resp)
			}
			if tt.want == provider.ErrConfiguration && resp.ErrorMessage != provider.NotConfiguredMessage {
				t.Fatalf("message: got %q", resp.ErrorMessage)
			}

			var events []models.StreamEvent
			for ev := range p.StreamChat(context.Background(), tt.messages, models.ChatOptions{}) {
				events = append(events, ev)
			}
			if len(events) != 1 || !events[0].Failed() {
				t.Fatalf("stream: got %+v", events)
			}
			if client.calls != 0 {
				t.Fatalf("network calls: got %d", client.calls)
			}
		})
	}
}
