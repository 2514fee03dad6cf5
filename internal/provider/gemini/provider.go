package gemini

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	"chatrelay/internal/transport"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel     = "gemini-1.5-flash"
	defaultMaxTokens = 2048
)

var supportedModels = []string{
	"gemini-1.5-pro",
	"gemini-1.5-flash",
	"gemini-1.5-pro-latest",
	"gemini-pro",
}

// Provider implements the Google Generative Language REST API. The API key
// travels as a query parameter; transport errors never include it.
type Provider struct {
	provider.Base
	baseURL string
}

// New constructs a Gemini provider instance.
func New(settings provider.Settings, client transport.Client) *Provider {
	p := &Provider{Base: provider.NewBase(string(provider.KindGemini), settings, client)}
	p.baseURL = p.BaseURL(defaultBaseURL)
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
		MaxTokens:               8192,
		Features:                []string{"streaming", "functions", "vision", "multimodal"},
	}
}

func (p *Provider) Chat(ctx context.Context, messages []models.Message, opts models.ChatOptions) models.ChatResponse {
	if err := p.Preflight(messages, opts); err != nil {
		return p.Fail(err, nil)
	}

	model := p.Model(opts, defaultModel)
	resp, err := p.Post(ctx, p.endpoint(model), p.buildPayload(messages, opts), p.Headers(nil))
	if err != nil {
		return p.Fail(err, nil)
	}
	return p.parseResponse(resp.StatusCode, resp.Body, model)
}

func (p *Provider) StreamChat(ctx context.Context, messages []models.Message, opts models.ChatOptions) iter.Seq[models.StreamEvent] {
	return p.SimulatedStream(ctx, func(ctx context.Context) models.ChatResponse {
		return p.Chat(ctx, messages, opts)
	})
}

func (p *Provider) endpoint(model string) string {
	q := url.Values{}
	q.Set("key", p.Settings().APIKey)
	return p.baseURL + "/models/" + url.PathEscape(model) + ":generateContent?" + q.Encode()
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// wireRole maps canonical roles onto the two roles the API accepts in
// contents.
func wireRole(role models.Role) string {
	if role == models.RoleAssistant {
		return "model"
	}
	return "user"
}

// buildPayload remaps roles and moves system messages into systemInstruction.
func (p *Provider) buildPayload(messages []models.Message, opts models.ChatOptions) generateRequest {
	var (
		system   []string
		contents = make([]content, 0, len(messages))
	)
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if text := strings.TrimSpace(msg.Content); text != "" {
				system = append(system, text)
			}
			continue
		}
		contents = append(contents, content{
			Role:  wireRole(msg.Role),
			Parts: []part{{Text: msg.Content}},
		})
	}

	req := generateRequest{
		Contents: contents,
		GenerationConfig: &generationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: p.MaxTokens(opts, defaultMaxTokens),
		},
	}
	if len(system) > 0 {
		req.SystemInstruction = &content{Parts: []part{{Text: strings.Join(system, "\n\n")}}}
	}
	return req
}

type generateResponse struct {
	Candidates    []candidate           `json:"candidates"`
	UsageMetadata *usageMetadata        `json:"usageMetadata,omitempty"`
	ModelVersion  string                `json:"modelVersion"`
	Error         *provider.VendorError `json:"error,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (p *Provider) parseResponse(status int, body []byte, model string) models.ChatResponse {
	var data generateResponse
	if err := json.Unmarshal(body, &data); err != nil {
		if status != http.StatusOK {
			return p.VendorFailure(status, body, nil)
		}
		return p.DecodeFailure(status, body, err)
	}

	if status != http.StatusOK || data.Error != nil {
		return p.VendorFailure(status, body, data.Error)
	}

	var text, finish string
	if len(data.Candidates) > 0 {
		c := data.Candidates[0]
		if len(c.Content.Parts) > 0 {
			text = c.Content.Parts[0].Text
		}
		finish = c.FinishReason
	}

	md := models.Metadata{
		Model:        data.ModelVersion,
		FinishReason: finish,
	}
	if md.Model == "" {
		md.Model = model
	}
	if u := data.UsageMetadata; u != nil {
		md.Usage = models.Usage{
			InputTokens:  u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount,
			TotalTokens:  u.TotalTokenCount,
		}
	}
	return models.Success(text, body, md)
}
