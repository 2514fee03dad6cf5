package provider

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"chatrelay/internal/models"
)

// Provider defines the behaviour every vendor adapter offers.
//
// Chat and StreamChat never return Go errors: every failure is folded into a
// failed models.ChatResponse or a terminal error event.
type Provider interface {
	Name() string
	Models() []string
	Capabilities() models.Capabilities
	IsAvailable() bool
	Chat(ctx context.Context, messages []models.Message, opts models.ChatOptions) models.ChatResponse
	StreamChat(ctx context.Context, messages []models.Message, opts models.ChatOptions) iter.Seq[models.StreamEvent]
}

// Kind is the closed set of supported vendors.
type Kind string

const (
	KindOpenAI   Kind = "openai"
	KindClaude   Kind = "claude"
	KindGemini   Kind = "gemini"
	KindDeepSeek Kind = "deepseek"
)

// Kinds lists the supported vendors in display order.
func Kinds() []Kind {
	return []Kind{KindOpenAI, KindDeepSeek, KindGemini, KindClaude}
}

// ParseKind maps a provider name to its Kind.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(name))); k {
	case KindOpenAI, KindClaude, KindGemini, KindDeepSeek:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// PlaceholderKey is the value an API key holds before it is configured.
func PlaceholderKey(name string) string {
	return "put_" + strings.ToLower(name) + "_api_key_here"
}

// IsPlaceholderKey reports whether key is unset or still the placeholder for
// the named provider. Claude keys are also accepted under the vendor name.
func IsPlaceholderKey(name, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" || key == PlaceholderKey(name) {
		return true
	}
	return Kind(strings.ToLower(name)) == KindClaude && key == PlaceholderKey("anthropic")
}

// Settings is the per-adapter configuration handed over by the factory.
type Settings struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Temperature  float64
	Headers      map[string]string

	// StreamChunkSize and StreamDelay pace the simulated stream.
	StreamChunkSize int
	StreamDelay     time.Duration
}

const (
	DefaultTemperature     = 0.7
	DefaultStreamChunkSize = 5
	DefaultStreamDelay     = 50 * time.Millisecond
)
