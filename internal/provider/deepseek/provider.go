package deepseek

import (
	"context"
	"iter"

	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	"chatrelay/internal/provider/openai"
	"chatrelay/internal/transport"
)

// Dialect is DeepSeek's chat-completions compatible endpoint. Function
// definitions are not forwarded.
var Dialect = openai.Dialect{
	Name:         string(provider.KindDeepSeek),
	BaseURL:      "https://api.deepseek.com",
	ChatPath:     "/chat/completions",
	DefaultModel: "deepseek-chat",
	DefaultMax:   2048,
	Models: []string{
		"deepseek-chat",
		"deepseek-reasoner",
		"deepseek-coder",
	},
	Capabilities: models.Capabilities{
		SupportsStreaming: true,
		MaxTokens:         16384,
		Features:          []string{"streaming", "reasoning"},
	},
}

// Provider shares the chat-completions wire format with OpenAI but streams
// by replaying the completed reply.
type Provider struct {
	*openai.Provider
}

// New constructs a DeepSeek provider instance.
func New(settings provider.Settings, client transport.Client) *Provider {
	return &Provider{Provider: openai.NewDialect(Dialect, settings, client)}
}

func (p *Provider) StreamChat(ctx context.Context, messages []models.Message, opts models.ChatOptions) iter.Seq[models.StreamEvent] {
	return p.SimulatedStream(ctx, func(ctx context.Context) models.ChatResponse {
		return p.Chat(ctx, messages, opts)
	})
}
