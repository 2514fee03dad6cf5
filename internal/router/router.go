package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"chatrelay/internal/analytics"
	"chatrelay/internal/export"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	"chatrelay/internal/store"
)

// ErrAnalyticsDisabled is returned by Analytics when no tracker is wired.
var ErrAnalyticsDisabled = errors.New("analytics are not enabled")

const (
	systemPrompt   = "You are a helpful assistant."
	defaultTitle   = "New Chat"
	titleMaxLength = 50
)

// Request is one chat turn. Messages carries the full history as sent by the
// client.
type Request struct {
	Provider    string
	Model       string
	Messages    []models.Message
	Temperature *float64
	MaxTokens   int
	SessionID   string
	Functions   json.RawMessage
}

// Result pairs the adapter response with the session it was recorded in.
type Result struct {
	Response  models.ChatResponse
	SessionID string
}

// ProviderInfo describes an available adapter.
type ProviderInfo struct {
	Provider     string              `json:"provider"`
	Name         string              `json:"name"`
	Models       []string            `json:"models"`
	Capabilities models.Capabilities `json:"capabilities"`
}

// Options wires the router's collaborators. Tracker and Metrics may be nil.
type Options struct {
	Registry        *provider.Registry
	Store           store.Store
	Tracker         *analytics.Tracker
	Metrics         *metrics.ProviderMetrics
	DefaultProvider string
	Temperature     float64
	Logger          *slog.Logger
}

// Router dispatches chat requests to adapters and records their outcome.
type Router struct {
	registry        *provider.Registry
	store           store.Store
	tracker         *analytics.Tracker
	metrics         *metrics.ProviderMetrics
	defaultProvider string
	temperature     float64
	logger          *slog.Logger
	now             func() time.Time
	newSessionID    func() string
}

// New constructs a router backed by the provided registry and store.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = provider.DefaultTemperature
	}
	defaultProvider := opts.DefaultProvider
	if defaultProvider == "" {
		defaultProvider = string(provider.KindOpenAI)
	}
	return &Router{
		registry:        opts.Registry,
		store:           opts.Store,
		tracker:         opts.Tracker,
		metrics:         opts.Metrics,
		defaultProvider: defaultProvider,
		temperature:     temperature,
		logger:          logger.With("component", "router"),
		now:             time.Now,
		newSessionID:    func() string { return "session_" + uuid.NewString() },
	}
}

// Providers lists the adapters that have an API key configured.
func (r *Router) Providers() []ProviderInfo {
	var out []ProviderInfo
	for _, name := range r.registry.Names() {
		p, err := r.registry.Lookup(name)
		if err != nil {
			continue
		}
		available := p.IsAvailable()
		r.metrics.SetAvailable(name, available)
		if !available {
			continue
		}
		out = append(out, ProviderInfo{
			Provider:     name,
			Name:         displayName(name),
			Models:       p.Models(),
			Capabilities: p.Capabilities(),
		})
	}
	return out
}

func displayName(name string) string {
	switch provider.Kind(name) {
	case provider.KindOpenAI:
		return "OpenAI"
	case provider.KindClaude:
		return "Claude"
	case provider.KindGemini:
		return "Gemini"
	case provider.KindDeepSeek:
		return "DeepSeek"
	}
	return name
}

// call is a resolved request.
type call struct {
	name      string
	adapter   provider.Provider
	opts      models.ChatOptions
	sessionID string
}

func (r *Router) resolve(req Request) (call, *models.ChatResponse) {
	name := strings.ToLower(strings.TrimSpace(req.Provider))
	if name == "" {
		name = r.defaultProvider
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = r.newSessionID()
	} else if err := store.ValidateID(sessionID); err != nil {
		failure := models.Failure(err.Error(), nil, fmt.Errorf("%w: %w", provider.ErrValidation, err))
		return call{}, &failure
	}

	adapter, err := r.registry.Lookup(name)
	if err != nil {
		failure := models.Failure("Unknown provider: "+name, nil, err)
		return call{}, &failure
	}

	temperature := r.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	return call{
		name:    name,
		adapter: adapter,
		opts: models.ChatOptions{
			Model:       strings.TrimSpace(req.Model),
			Temperature: &temperature,
			MaxTokens:   req.MaxTokens,
			Functions:   req.Functions,
		},
		sessionID: sessionID,
	}, nil
}

// Chat sends the request to the selected adapter. Failures are reported in
// the response; recording the outcome never fails the call.
func (r *Router) Chat(ctx context.Context, req Request) Result {
	c, failure := r.resolve(req)
	if failure != nil {
		return Result{Response: *failure, SessionID: req.SessionID}
	}

	r.logger.Info("chat request", "provider", c.name, "model", c.opts.Model, "session_id", c.sessionID)
	start := r.now()
	resp := c.adapter.Chat(ctx, req.Messages, c.opts)
	r.record(ctx, c, req.Messages, resp, r.now().Sub(start))

	return Result{Response: resp, SessionID: c.sessionID}
}

// Stream relays the adapter's stream events. The conversation is recorded
// when the terminal event arrives.
func (r *Router) Stream(ctx context.Context, req Request) (string, iter.Seq[models.StreamEvent]) {
	c, failure := r.resolve(req)
	if failure != nil {
		return req.SessionID, provider.ErrorStream(failure.ErrorMessage)
	}

	r.logger.Info("chat stream", "provider", c.name, "model", c.opts.Model, "session_id", c.sessionID)
	return c.sessionID, func(yield func(models.StreamEvent) bool) {
		start := r.now()
		c.opts.Stream = true
		for ev := range c.adapter.StreamChat(ctx, req.Messages, c.opts) {
			if ev.Done {
				resp := models.Success(ev.Content, nil, models.Metadata{Model: c.opts.Model})
				if ev.Failed() {
					resp = models.Failure(ev.Error, nil, nil)
				}
				r.record(ctx, c, req.Messages, resp, r.now().Sub(start))
			}
			if !yield(ev) {
				return
			}
		}
	}
}

func (r *Router) record(ctx context.Context, c call, messages []models.Message, resp models.ChatResponse, elapsed time.Duration) {
	model := resp.Metadata.Model
	if model == "" {
		model = c.opts.Model
	}
	r.metrics.ObserveChat(c.name, model, elapsed, resp.Success, provider.KindLabel(resp.Err))

	if !resp.Success {
		r.logger.Error("chat error", "provider", c.name, "error", resp.ErrorMessage, "raw", string(resp.Raw))
		return
	}

	if r.tracker != nil {
		if err := r.tracker.Track(c.name, c.opts.Model, resp.Metadata.Usage.Billable()); err != nil {
			r.logger.Warn("analytics tracking failed", "error", err)
		}
	}

	// The request context may already be cancelled once a stream finishes.
	saveCtx := context.WithoutCancel(ctx)

	history := make([]models.Message, 0, len(messages)+2)
	if prompt, ok := r.storedPrompt(saveCtx, c.sessionID, messages); ok {
		history = append(history, prompt)
	}
	history = append(history, messages...)
	history = append(history, models.Message{Role: models.RoleAssistant, Content: resp.Content})

	err := r.store.Save(saveCtx, c.sessionID, history, models.ConversationMetadata{
		Title:        Title(history),
		LastProvider: c.name,
		LastModel:    model,
	})
	if err != nil {
		r.logger.Warn("saving conversation failed", "session_id", c.sessionID, "error", err)
	}
}

// storedPrompt returns the leading system message of the stored session when
// the request does not open with one of its own.
func (r *Router) storedPrompt(ctx context.Context, sessionID string, messages []models.Message) (models.Message, bool) {
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		return models.Message{}, false
	}
	conv, err := r.store.Load(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("loading conversation failed", "session_id", sessionID, "error", err)
		}
		return models.Message{}, false
	}
	if len(conv.Messages) == 0 || conv.Messages[0].Role != models.RoleSystem {
		return models.Message{}, false
	}
	return conv.Messages[0], true
}

// Title derives a conversation title from the first user message, cut to
// fifty characters.
func Title(messages []models.Message) string {
	for _, msg := range messages {
		if msg.Role != models.RoleUser {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if utf8.RuneCountInString(content) <= titleMaxLength {
			return content
		}
		return string([]rune(content)[:titleMaxLength]) + "..."
	}
	return defaultTitle
}

// CreateSession stores an empty conversation seeded with the system prompt.
func (r *Router) CreateSession(ctx context.Context, title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		title = defaultTitle
	}
	id := r.newSessionID()
	err := r.store.Save(ctx, id, []models.Message{{Role: models.RoleSystem, Content: systemPrompt}}, models.ConversationMetadata{Title: title})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (r *Router) LoadSession(ctx context.Context, id string) (models.Conversation, error) {
	return r.store.Load(ctx, id)
}

func (r *Router) DeleteSession(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

func (r *Router) ListSessions(ctx context.Context) ([]models.ConversationSummary, error) {
	sessions, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []models.ConversationSummary{}
	}
	return sessions, nil
}

// ExportSession renders a stored conversation.
func (r *Router) ExportSession(ctx context.Context, id string, format export.Format) ([]byte, error) {
	conv, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return export.Export(conv, format)
}

func (r *Router) ImportSession(ctx context.Context, data []byte) (string, error) {
	return export.Import(ctx, r.store, data)
}

// Analytics returns usage statistics for the last days days.
func (r *Router) Analytics(days int) (analytics.Stats, error) {
	if r.tracker == nil {
		return analytics.Stats{}, ErrAnalyticsDisabled
	}
	return r.tracker.Stats(days)
}
