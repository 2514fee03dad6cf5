package claude

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"strings"

	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	"chatrelay/internal/transport"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	messagesPath     = "/v1/messages"
	apiVersion       = "2023-06-01"
	defaultModel     = "claude-3-haiku-20240307"
	defaultMaxTokens = 1024
)

var supportedModels = []string{
	"claude-3-opus-20240229",
	"claude-3-sonnet-20240229",
	"claude-3-haiku-20240307",
	"claude-3-5-sonnet-20241022",
}

// Provider implements Anthropic Messages API interactions. The vendor reply
// is complete before streaming starts, so StreamChat replays it in slices.
type Provider struct {
	provider.Base
	messagesURL string
}

// New constructs a Claude provider instance.
func New(settings provider.Settings, client transport.Client) *Provider {
	p := &Provider{Base: provider.NewBase(string(provider.KindClaude), settings, client)}
	p.messagesURL = p.BaseURL(defaultBaseURL) + messagesPath
	return p
}

func (p *Provider) Models() []string {
	out := make([]string, len(supportedModels))
	copy(out, supportedModels)
	return out
}

func (p *Provider) Capabilities() models.Capabilities {
	return models.Capabilities{
		SupportsStreaming:       true,
		SupportsFunctionCalling: true,
		SupportsVision:          true,
		MaxTokens:               200000,
		Features:                []string{"streaming", "functions", "vision", "long_context"},
	}
}

func (p *Provider) Chat(ctx context.Context, messages []models.Message, opts models.ChatOptions) models.ChatResponse {
	if err := p.Preflight(messages, opts); err != nil {
		return p.Fail(err, nil)
	}

	resp, err := p.Post(ctx, p.messagesURL, p.buildPayload(messages, opts), p.headers())
	if err != nil {
		return p.Fail(err, nil)
	}
	return p.parseResponse(resp.StatusCode, resp.Body)
}

func (p *Provider) StreamChat(ctx context.Context, messages []models.Message, opts models.ChatOptions) iter.Seq[models.StreamEvent] {
	return p.SimulatedStream(ctx, func(ctx context.Context) models.ChatResponse {
		return p.Chat(ctx, messages, opts)
	})
}

func (p *Provider) headers() map[string]string {
	return p.Headers(map[string]string{
		"x-api-key":         p.Settings().APIKey,
		"anthropic-version": apiVersion,
	})
}

type messagePayload struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildPayload lifts system messages into the top level system field; the
// Messages API only accepts user and assistant turns in the list.
func (p *Provider) buildPayload(messages []models.Message, opts models.ChatOptions) messagePayload {
	var (
		system []string
		turns  = make([]message, 0, len(messages))
	)
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if text := strings.TrimSpace(msg.Content); text != "" {
				system = append(system, text)
			}
			continue
		}
		turns = append(turns, message{Role: string(msg.Role), Content: msg.Content})
	}

	return messagePayload{
		Model:       p.Model(opts, defaultModel),
		MaxTokens:   p.MaxTokens(opts, defaultMaxTokens),
		Temperature: p.Temperature(opts),
		Messages:    turns,
		System:      strings.Join(system, "\n\n"),
	}
}

type messageResponse struct {
	ID         string                `json:"id"`
	Type       string                `json:"type"`
	Model      string                `json:"model"`
	Content    []contentBlock        `json:"content"`
	StopReason string                `json:"stop_reason"`
	Usage      *usage                `json:"usage,omitempty"`
	Error      *provider.VendorError `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (p *Provider) parseResponse(status int, body []byte) models.ChatResponse {
	var data messageResponse
	if err := json.Unmarshal(body, &data); err != nil {
		if status != http.StatusOK {
			return p.VendorFailure(status, body, nil)
		}
		return p.DecodeFailure(status, body, err)
	}

	if status != http.StatusOK || data.Error != nil {
		return p.VendorFailure(status, body, data.Error)
	}

	var text string
	if len(data.Content) > 0 {
		text = data.Content[0].Text
	}

	md := models.Metadata{
		Model:        data.Model,
		FinishReason: data.StopReason,
	}
	if data.Usage != nil {
		md.Usage = models.Usage{
			InputTokens:  data.Usage.InputTokens,
			OutputTokens: data.Usage.OutputTokens,
			TotalTokens:  data.Usage.InputTokens + data.Usage.OutputTokens,
		}
	}
	return models.Success(text, body, md)
}
