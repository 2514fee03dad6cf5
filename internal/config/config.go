package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"

	FormatText = "text"
	FormatJSON = "json"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chat      ChatConfig      `yaml:"chat"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// EnvFile holds API keys in KEY=value form. Relative paths resolve
	// against the directory of the configuration file.
	EnvFile string `yaml:"env_file"`

	// Path is the absolute location the configuration was loaded from.
	Path string `yaml:"-"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port      int             `yaml:"port"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds requests per client IP. MaxRequests 0 disables it.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// ChatConfig holds defaults applied to every adapter.
type ChatConfig struct {
	DefaultProvider string        `yaml:"default_provider"`
	Temperature     float64       `yaml:"temperature"`
	MaxTokens       int           `yaml:"max_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
	StreamTimeout   time.Duration `yaml:"stream_timeout"`
	StreamChunkSize int           `yaml:"stream_chunk_size"`
	StreamDelay     time.Duration `yaml:"stream_delay"`
}

// ProvidersConfig catalogues the supported vendors.
type ProvidersConfig struct {
	OpenAI   ProviderConfig `yaml:"openai"`
	Claude   ProviderConfig `yaml:"claude"`
	Gemini   ProviderConfig `yaml:"gemini"`
	DeepSeek ProviderConfig `yaml:"deepseek"`
}

// ProviderConfig captures authentication and routing info for a provider.
type ProviderConfig struct {
	APIKey    string  `yaml:"api_key"`
	BaseURL   string  `yaml:"base_url"`
	Model     string  `yaml:"model"`
	MaxTokens int     `yaml:"max_tokens"`
	Headers   Headers `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// NamedProvider pairs a vendor name with its configuration.
type NamedProvider struct {
	Name   string
	EnvKey string
	Config ProviderConfig
}

// List returns the vendors in a stable order along with the environment
// variable that carries each API key.
func (p ProvidersConfig) List() []NamedProvider {
	return []NamedProvider{
		{Name: "openai", EnvKey: "OPENAI_API_KEY", Config: p.OpenAI},
		{Name: "claude", EnvKey: "ANTHROPIC_API_KEY", Config: p.Claude},
		{Name: "gemini", EnvKey: "GEMINI_API_KEY", Config: p.Gemini},
		{Name: "deepseek", EnvKey: "DEEPSEEK_API_KEY", Config: p.DeepSeek},
	}
}

func (p *ProvidersConfig) byName(name string) *ProviderConfig {
	switch name {
	case "openai":
		return &p.OpenAI
	case "claude":
		return &p.Claude
	case "gemini":
		return &p.Gemini
	case "deepseek":
		return &p.DeepSeek
	}
	return nil
}

// StorageConfig selects where conversations and analytics live.
type StorageConfig struct {
	Driver        string `yaml:"driver"`
	Dir           string `yaml:"dir"`
	SQLitePath    string `yaml:"sqlite_path"`
	AnalyticsPath string `yaml:"analytics_path"`
	RetentionDays int    `yaml:"retention_days"`
	PruneSchedule string `yaml:"prune_schedule"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Load reads YAML configuration from disk, overlays API keys from the env
// file and the process environment, and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}
	cfg.Path = absPath
	cfg.resolvePaths(filepath.Dir(absPath))

	secrets, err := readEnvFile(cfg.EnvFile)
	if err != nil {
		return Config{}, err
	}
	cfg.overlaySecrets(secrets, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults. It performs no file access and
// no validation.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit.Window == 0 {
		c.Server.RateLimit.Window = time.Minute
	}

	ch := &c.Chat
	if ch.DefaultProvider == "" {
		ch.DefaultProvider = "openai"
	}
	if ch.Temperature == 0 {
		ch.Temperature = 0.7
	}
	if ch.MaxTokens == 0 {
		ch.MaxTokens = 2048
	}
	if ch.Timeout == 0 {
		ch.Timeout = 30 * time.Second
	}
	if ch.StreamTimeout == 0 {
		ch.StreamTimeout = 300 * time.Second
	}
	if ch.StreamChunkSize == 0 {
		ch.StreamChunkSize = 5
	}
	if ch.StreamDelay == 0 {
		ch.StreamDelay = 50 * time.Millisecond
	}

	st := &c.Storage
	if st.Driver == "" {
		st.Driver = DriverFile
	}
	if st.Dir == "" {
		st.Dir = filepath.Join("data", "conversations")
	}
	if st.SQLitePath == "" {
		st.SQLitePath = filepath.Join("data", "conversations.db")
	}
	if st.AnalyticsPath == "" {
		st.AnalyticsPath = filepath.Join("data", "analytics.json")
	}
	if st.PruneSchedule == "" {
		st.PruneSchedule = "@daily"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = FormatText
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "chatrelay"
	}
	if c.EnvFile == "" {
		c.EnvFile = ".env"
	}
}

func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.EnvFile, &c.Storage.Dir, &c.Storage.SQLitePath, &c.Storage.AnalyticsPath} {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// readEnvFile returns the key/value pairs of the env file. A missing file is
// not an error.
func readEnvFile(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read env file %q: %w", path, err)
	}
	return values, nil
}

// overlaySecrets sets provider API keys from the env file and the process
// environment, the latter taking precedence over both the file and YAML.
func (c *Config) overlaySecrets(file map[string]string, lookup func(string) (string, bool)) {
	for _, np := range c.Providers.List() {
		pc := c.Providers.byName(np.Name)
		if v := strings.TrimSpace(file[np.EnvKey]); v != "" {
			pc.APIKey = v
		}
		if v, ok := lookup(np.EnvKey); ok && strings.TrimSpace(v) != "" {
			pc.APIKey = strings.TrimSpace(v)
		}
		if pc.APIKey == "" {
			pc.APIKey = placeholder(np.Name)
		}
	}
}

func placeholder(name string) string {
	return "put_" + name + "_api_key_here"
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.RateLimit.MaxRequests < 0 {
		return fmt.Errorf("server.rate_limit.max_requests must not be negative, got %d", c.Server.RateLimit.MaxRequests)
	}
	if c.Server.RateLimit.Window <= 0 {
		return fmt.Errorf("server.rate_limit.window must be positive, got %s", c.Server.RateLimit.Window)
	}

	if c.Providers.byName(c.Chat.DefaultProvider) == nil {
		return fmt.Errorf("chat.default_provider %q is not a supported provider", c.Chat.DefaultProvider)
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("chat.temperature must be between 0 and 2, got %v", c.Chat.Temperature)
	}
	if c.Chat.MaxTokens < 0 {
		return fmt.Errorf("chat.max_tokens must not be negative, got %d", c.Chat.MaxTokens)
	}
	if c.Chat.Timeout < 0 || c.Chat.StreamTimeout < 0 {
		return errors.New("chat timeouts must not be negative")
	}
	if c.Chat.StreamChunkSize < 0 {
		return fmt.Errorf("chat.stream_chunk_size must not be negative, got %d", c.Chat.StreamChunkSize)
	}
	if c.Chat.StreamDelay < 0 {
		return fmt.Errorf("chat.stream_delay must not be negative, got %s", c.Chat.StreamDelay)
	}

	for _, np := range c.Providers.List() {
		if err := validateProvider(np.Name, np.Config); err != nil {
			return err
		}
	}

	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
	default:
		return fmt.Errorf("storage.driver must be one of %q or %q, got %q", DriverFile, DriverSQLite, c.Storage.Driver)
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage.retention_days must not be negative, got %d", c.Storage.RetentionDays)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("logging.format must be one of %q or %q, got %q", FormatText, FormatJSON, c.Logging.Format)
	}

	return nil
}

func validateProvider(name string, provider ProviderConfig) error {
	if provider.MaxTokens < 0 {
		return fmt.Errorf("provider %s: max_tokens must not be negative", name)
	}
	if u := strings.TrimSpace(provider.BaseURL); u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("provider %s: base_url %q must be an http(s) URL", name, u)
	}
	for headerKey := range maps.Keys(provider.Headers) {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}
	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
