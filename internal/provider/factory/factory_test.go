package factory

import (
	"context"
	"encoding/json"
	"testing"

	"chatrelay/internal/config"
	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	"chatrelay/internal/transport"
)

type recordingClient struct {
	endpoint string
	payload  map[string]any
}

func (c *recordingClient) PostJSON(ctx context.Context, endpoint string, payload any, headers map[string]string) (*transport.Response, error) {
	c.endpoint = endpoint
	raw, _ := json.Marshal(payload)
	c.payload = map[string]any{}
	json.Unmarshal(raw, &c.payload)
	body := []byte(`{"model":"gpt-4o","choices":[{"message":{"content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	return &transport.Response{StatusCode: 200, Body: body}, nil
}

func (c *recordingClient) PostStream(ctx context.Context, endpoint string, payload any, headers map[string]string) (*transport.StreamResponse, error) {
	panic("unexpected stream call")
}

func parse(t *testing.T, yaml string) config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func TestNewRegistry(t *testing.T) {
	cfg := parse(t, `
chat:
  max_tokens: 512
providers:
  openai:
    api_key: sk-test
    base_url: https://proxy.example.com/v1/
    model: gpt-4o
`)
	client := &recordingClient{}
	registry, err := NewRegistry(cfg, client)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	names := registry.Names()
	want := []string{"openai", "deepseek", "gemini", "claude"}
	if len(names) != len(want) {
		t.Fatalf("names: got %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names: got %v, want %v", names, want)
		}
	}

	gemini, _ := registry.Lookup("gemini")
	if gemini.IsAvailable() {
		t.Fatal("gemini has no key and must be unavailable")
	}

	p, err := registry.Lookup("openai")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !p.IsAvailable() {
		t.Fatal("openai must be available")
	}
	resp := p.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, models.ChatOptions{})
	if !resp.Success {
		t.Fatalf("chat failed: %+v", resp)
	}
	if client.endpoint != "https://proxy.example.com/v1/chat/completions" {
		t.Errorf("endpoint: got %q", client.endpoint)
	}
	if client.payload["model"] != "gpt-4o" || client.payload["max_tokens"] != float64(512) {
		t.Errorf("payload: got %v", client.payload)
	}
}

func TestReloadReplacesAdapters(t *testing.T) {
	client := &recordingClient{}
	registry, err := NewRegistry(parse(t, "{}"), client)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	before, _ := registry.Lookup("claude")
	if before.IsAvailable() {
		t.Fatal("claude must start unavailable")
	}

	if err := Reload(parse(t, "providers:\n  claude:\n    api_key: sk-ant\n"), registry, client); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	after, _ := registry.Lookup("claude")
	if after == before || !after.IsAvailable() {
		t.Fatal("claude adapter was not replaced")
	}
}

func TestSettings(t *testing.T) {
	cfg := parse(t, `
chat:
  temperature: 0.3
  max_tokens: 4000
providers:
  gemini:
    max_tokens: 100
`)
	byName := map[string]provider.Settings{}
	for _, np := range cfg.Providers.List() {
		byName[np.Name] = Settings(cfg, np)
	}
	if byName["gemini"].MaxTokens != 100 {
		t.Errorf("gemini: got %d", byName["gemini"].MaxTokens)
	}
	if byName["openai"].MaxTokens != 4000 {
		t.Errorf("openai: got %d", byName["openai"].MaxTokens)
	}
	if byName["claude"].MaxTokens != 0 {
		t.Errorf("claude must keep its own default, got %d", byName["claude"].MaxTokens)
	}
	if s := byName["deepseek"]; s.Temperature != 0.3 || s.StreamChunkSize != 5 {
		t.Errorf("deepseek: got %+v", s)
	}
}
