package openai

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"

	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	"chatrelay/internal/transport"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 2048
)

// Dialect describes an OpenAI compatible chat-completions endpoint.
type Dialect struct {
	Name          string
	BaseURL       string
	ChatPath      string
	DefaultModel  string
	DefaultMax    int
	Models        []string
	Capabilities  models.Capabilities
	SendFunctions bool
}

// OpenAI is the dialect of api.openai.com.
var OpenAI = Dialect{
	Name:         string(provider.KindOpenAI),
	BaseURL:      defaultBaseURL,
	ChatPath:     "/chat/completions",
	DefaultModel: defaultModel,
	DefaultMax:   defaultMaxTokens,
	Models: []string{
		"gpt-4o-mini",
		"gpt-4o",
		"gpt-4-turbo",
		"gpt-4",
		"gpt-3.5-turbo",
	},
	Capabilities: models.Capabilities{
		SupportsStreaming:       true,
		SupportsFunctionCalling: true,
		SupportsVision:          true,
		MaxTokens:               16384,
		Features:                []string{"streaming", "functions", "vision", "json_mode"},
	},
	SendFunctions: true,
}

// Provider implements the chat-completions protocol. Streaming consumes the
// vendor's server-sent events incrementally.
type Provider struct {
	provider.Base
	dialect Dialect
	chatURL string
}

// New creates an adapter for api.openai.com.
func New(settings provider.Settings, client transport.Client) *Provider {
	return NewDialect(OpenAI, settings, client)
}

// NewDialect creates an adapter for any chat-completions compatible vendor.
func NewDialect(dialect Dialect, settings provider.Settings, client transport.Client) *Provider {
	p := &Provider{
		Base:    provider.NewBase(dialect.Name, settings, client),
		dialect: dialect,
	}
	p.chatURL = p.BaseURL(dialect.BaseURL) + dialect.ChatPath
	return p
}

func (p *Provider) Models() []string {
	out := make([]string, len(p.dialect.Models))
	copy(out, p.dialect.Models)
	return out
}

func (p *Provider) Capabilities() models.Capabilities {
	return p.dialect.Capabilities
}

func (p *Provider) Chat(ctx context.Context, messages []models.Message, opts models.ChatOptions) models.ChatResponse {
	if err := p.Preflight(messages, opts); err != nil {
		return p.Fail(err, nil)
	}

	opts.Stream = false
	resp, err := p.Post(ctx, p.chatURL, p.buildPayload(messages, opts), p.headers())
	if err != nil {
		return p.Fail(err, nil)
	}
	return p.parseResponse(resp.StatusCode, resp.Body)
}

// StreamChat relays the vendor's SSE deltas as they arrive.
func (p *Provider) StreamChat(ctx context.Context, messages []models.Message, opts models.ChatOptions) iter.Seq[models.StreamEvent] {
	return func(yield func(models.StreamEvent) bool) {
		if err := p.Preflight(messages, opts); err != nil {
			failure := p.Fail(err, nil)
			yield(models.StreamEvent{Done: true, Error: failure.ErrorMessage})
			return
		}

		opts.Stream = true
		resp, err := p.Client().PostStream(ctx, p.chatURL, p.buildPayload(messages, opts), p.headers())
		if err != nil {
			failure := p.Fail(p.TransportError(err, nil), nil)
			yield(models.StreamEvent{Done: true, Error: failure.ErrorMessage})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body := provider.ReadErrorBody(resp)
			failure := p.parseResponse(resp.StatusCode, body)
			yield(models.StreamEvent{Done: true, Error: failure.ErrorMessage})
			return
		}

		for ev := range provider.StreamSSE(ctx, resp.Body, deltaToken) {
			if !yield(ev) {
				return
			}
		}
	}
}

func (p *Provider) headers() map[string]string {
	return p.Headers(map[string]string{
		"Authorization": "Bearer " + p.Settings().APIKey,
	})
}

type chatPayload struct {
	Model       string          `json:"model"`
	Messages    []wireMessage   `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream,omitempty"`
	Functions   json.RawMessage `json:"functions,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p *Provider) buildPayload(messages []models.Message, opts models.ChatOptions) chatPayload {
	wire := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, wireMessage{Role: string(msg.Role), Content: msg.Content})
	}

	payload := chatPayload{
		Model:       p.Model(opts, p.dialect.DefaultModel),
		Messages:    wire,
		Temperature: p.Temperature(opts),
		MaxTokens:   p.MaxTokens(opts, p.dialect.DefaultMax),
		Stream:      opts.Stream,
	}
	if p.dialect.SendFunctions && len(opts.Functions) > 0 {
		payload.Functions = opts.Functions
	}
	return payload
}

type chatResponse struct {
	ID      string                `json:"id"`
	Model   string                `json:"model"`
	Choices []chatChoice          `json:"choices"`
	Usage   *usageBlock           `json:"usage,omitempty"`
	Error   *provider.VendorError `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (p *Provider) parseResponse(status int, body []byte) models.ChatResponse {
	var data chatResponse
	if err := json.Unmarshal(body, &data); err != nil {
		if status != http.StatusOK {
			return p.VendorFailure(status, body, nil)
		}
		return p.DecodeFailure(status, body, err)
	}

	if status != http.StatusOK || data.Error != nil {
		return p.VendorFailure(status, body, data.Error)
	}

	var content, finish string
	if len(data.Choices) > 0 {
		content = data.Choices[0].Message.Content
		finish = data.Choices[0].FinishReason
	}

	return models.Success(content, body, models.Metadata{
		Model:        data.Model,
		Usage:        data.Usage.toUsage(),
		FinishReason: finish,
	})
}

func (u *usageBlock) toUsage() models.Usage {
	if u == nil {
		return models.Usage{}
	}
	return models.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func deltaToken(data []byte) (string, bool) {
	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil || len(chunk.Choices) == 0 {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}
