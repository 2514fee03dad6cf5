// Package factory wires the vendor adapters into a provider registry.
package factory

import (
	"errors"
	"fmt"

	"chatrelay/internal/config"
	"chatrelay/internal/provider"
	"chatrelay/internal/provider/claude"
	"chatrelay/internal/provider/deepseek"
	"chatrelay/internal/provider/gemini"
	"chatrelay/internal/provider/openai"
	"chatrelay/internal/transport"
)

// Constructors returns the static table from vendor kind to adapter.
func Constructors() map[provider.Kind]provider.Constructor {
	return map[provider.Kind]provider.Constructor{
		provider.KindOpenAI: func(s provider.Settings, c transport.Client) provider.Provider {
			return openai.New(s, c)
		},
		provider.KindClaude: func(s provider.Settings, c transport.Client) provider.Provider {
			return claude.New(s, c)
		},
		provider.KindGemini: func(s provider.Settings, c transport.Client) provider.Provider {
			return gemini.New(s, c)
		},
		provider.KindDeepSeek: func(s provider.Settings, c transport.Client) provider.Provider {
			return deepseek.New(s, c)
		},
	}
}

// NewClient builds the outbound HTTP client from the chat timeouts.
func NewClient(cfg config.Config) *transport.HTTPClient {
	return transport.New(transport.Options{
		Timeout:       cfg.Chat.Timeout,
		StreamTimeout: cfg.Chat.StreamTimeout,
	})
}

// NewRegistry creates a registry populated with every configured vendor.
func NewRegistry(cfg config.Config, client transport.Client) (*provider.Registry, error) {
	registry := provider.NewRegistry(client, Constructors())
	if err := RegisterConfigured(cfg, registry); err != nil {
		return nil, err
	}
	return registry, nil
}

// RegisterConfigured creates the adapters named in cfg. Adapters already in
// the registry are kept as they are.
func RegisterConfigured(cfg config.Config, registry *provider.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}
	for _, np := range cfg.Providers.List() {
		if _, err := registry.Create(np.Name, np.Config.APIKey, Settings(cfg, np)); err != nil {
			return fmt.Errorf("initialise %s provider: %w", np.Name, err)
		}
	}
	return nil
}

// Reload replaces every adapter with one built from cfg. In-flight calls
// keep the adapter they already resolved.
func Reload(cfg config.Config, registry *provider.Registry, client transport.Client) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}
	constructors := Constructors()
	for _, np := range cfg.Providers.List() {
		construct, ok := constructors[provider.Kind(np.Name)]
		if !ok {
			return fmt.Errorf("%w: %q", provider.ErrUnknownProvider, np.Name)
		}
		settings := Settings(cfg, np)
		settings.APIKey = np.Config.APIKey
		if err := registry.Register(np.Name, construct(settings, client)); err != nil {
			return fmt.Errorf("register %s provider: %w", np.Name, err)
		}
	}
	return nil
}

// Settings derives the adapter settings of one vendor. The chat-wide token
// budget applies to every vendor except Claude, which keeps its own default.
func Settings(cfg config.Config, np config.NamedProvider) provider.Settings {
	maxTokens := np.Config.MaxTokens
	if maxTokens == 0 && provider.Kind(np.Name) != provider.KindClaude {
		maxTokens = cfg.Chat.MaxTokens
	}
	return provider.Settings{
		BaseURL:         np.Config.BaseURL,
		DefaultModel:    np.Config.Model,
		MaxTokens:       maxTokens,
		Temperature:     cfg.Chat.Temperature,
		Headers:         np.Config.Headers,
		StreamChunkSize: cfg.Chat.StreamChunkSize,
		StreamDelay:     cfg.Chat.StreamDelay,
	}
}
