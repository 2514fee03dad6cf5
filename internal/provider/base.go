package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"chatrelay/internal/models"
	"chatrelay/internal/transport"
)

// Base carries the plumbing shared by all adapters: settings, the HTTP
// collaborator, request validation and failure conversion.
type Base struct {
	name     string
	settings Settings
	client   transport.Client
	logger   *slog.Logger
}

// NewBase constructs the shared adapter state.
func NewBase(name string, settings Settings, client transport.Client) Base {
	if settings.StreamChunkSize <= 0 {
		settings.StreamChunkSize = DefaultStreamChunkSize
	}
	if settings.StreamDelay < 0 {
		settings.StreamDelay = 0
	}
	return Base{
		name:     name,
		settings: settings,
		client:   client,
		logger:   slog.Default().With("component", "provider", "provider", name),
	}
}

func (b *Base) Name() string {
	return b.name
}

// Settings returns the adapter configuration.
func (b *Base) Settings() Settings {
	return b.settings
}

// Client returns the HTTP collaborator.
func (b *Base) Client() transport.Client {
	return b.client
}

// IsAvailable reports whether an API key other than the placeholder is set.
func (b *Base) IsAvailable() bool {
	return !IsPlaceholderKey(b.name, b.settings.APIKey)
}

// Preflight validates the request and the adapter configuration. A non-nil
// result means no network call may be made.
func (b *Base) Preflight(messages []models.Message, opts models.ChatOptions) *Error {
	if len(messages) == 0 {
		return newError(ErrValidation, b.name, "Messages cannot be empty", nil)
	}
	for i, msg := range messages {
		if !msg.Role.Valid() {
			return newError(ErrValidation, b.name, fmt.Sprintf("message %d has unsupported role %q", i, msg.Role), nil)
		}
	}
	if t := opts.Temperature; t != nil && (*t < 0 || *t > 2) {
		return newError(ErrValidation, b.name, fmt.Sprintf("temperature %.2f must be between 0 and 2", *t), nil)
	}
	if opts.MaxTokens < 0 {
		return newError(ErrValidation, b.name, "max_tokens must not be negative", nil)
	}
	if !b.IsAvailable() {
		return newError(ErrConfiguration, b.name, NotConfiguredMessage, nil)
	}
	return nil
}

// Model resolves the model for a request.
func (b *Base) Model(opts models.ChatOptions, fallback string) string {
	if m := strings.TrimSpace(opts.Model); m != "" {
		return m
	}
	if b.settings.DefaultModel != "" {
		return b.settings.DefaultModel
	}
	return fallback
}

// Temperature resolves the sampling temperature for a request.
func (b *Base) Temperature(opts models.ChatOptions) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	if b.settings.Temperature > 0 {
		return b.settings.Temperature
	}
	return DefaultTemperature
}

// MaxTokens resolves the completion budget for a request.
func (b *Base) MaxTokens(opts models.ChatOptions, fallback int) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	if b.settings.MaxTokens > 0 {
		return b.settings.MaxTokens
	}
	return fallback
}

// Headers merges the configured extra headers over the vendor headers.
func (b *Base) Headers(vendor map[string]string) map[string]string {
	out := make(map[string]string, len(vendor)+len(b.settings.Headers))
	for k, v := range vendor {
		out[k] = v
	}
	for k, v := range b.settings.Headers {
		out[k] = v
	}
	return out
}

// BaseURL returns the configured base URL or the vendor default.
func (b *Base) BaseURL(fallback string) string {
	if u := strings.TrimRight(strings.TrimSpace(b.settings.BaseURL), "/"); u != "" {
		return u
	}
	return fallback
}

// Post performs the synchronous vendor call and classifies transport level
// failures.
func (b *Base) Post(ctx context.Context, url string, payload any, headers map[string]string) (*transport.Response, *Error) {
	resp, err := b.client.PostJSON(ctx, url, payload, headers)
	if err != nil {
		return nil, b.TransportError(err, resp)
	}
	return resp, nil
}

// TransportError classifies a failed outbound call: bodies that are not JSON
// are decode errors, everything else is a transport error.
func (b *Base) TransportError(err error, resp *transport.Response) *Error {
	if errors.Is(err, transport.ErrNotJSON) {
		e := newError(ErrDecode, b.name, "JSON decode error: "+err.Error(), err)
		if resp != nil {
			e.StatusCode = resp.StatusCode
		}
		return e
	}
	return newError(ErrTransport, b.name, err.Error(), err)
}

// Fail converts a classified error into a failed response.
func (b *Base) Fail(err *Error, raw json.RawMessage) models.ChatResponse {
	b.logger.Warn("chat request failed",
		"kind", KindLabel(err),
		"status", err.StatusCode,
		"error", err.Message,
	)
	return models.Failure(err.Message, raw, err)
}

// DecodeFailure reports a vendor body that does not match the vendor schema.
func (b *Base) DecodeFailure(status int, raw []byte, err error) models.ChatResponse {
	e := newError(ErrDecode, b.name, "decode provider response: "+err.Error(), err)
	e.StatusCode = status
	return b.Fail(e, RawJSON(raw))
}

// VendorError is the error envelope shared by the supported vendors.
type VendorError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Status  string `json:"status,omitempty"`
	Code    any    `json:"code,omitempty"`
}

// VendorFailure reports a vendor side failure: a non-200 status or an
// embedded error object. The raw body is kept for diagnostics.
func (b *Base) VendorFailure(status int, raw []byte, vendorErr *VendorError) models.ChatResponse {
	message := ""
	if vendorErr != nil {
		message = vendorErr.Message
	}
	if message == "" {
		message = "Unknown error"
	}
	e := newError(ErrProtocol, b.name, message, nil)
	e.StatusCode = status
	return b.Fail(e, RawJSON(raw))
}

// RawJSON returns body when it is valid JSON, nil otherwise, so it can be
// attached to a response as diagnostic payload.
func RawJSON(body []byte) json.RawMessage {
	if len(body) == 0 || !json.Valid(body) {
		return nil
	}
	return body
}

// ReadErrorBody drains a bounded prefix of a failed streaming response.
func ReadErrorBody(resp *transport.StreamResponse) []byte {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil
	}
	return body
}

// SimulatedStream runs chat lazily when iteration starts and replays its
// result through Simulate with the configured pacing.
func (b *Base) SimulatedStream(ctx context.Context, chat func(context.Context) models.ChatResponse) iter.Seq[models.StreamEvent] {
	return func(yield func(models.StreamEvent) bool) {
		resp := chat(ctx)
		for ev := range Simulate(ctx, resp, b.settings.StreamChunkSize, b.settings.StreamDelay) {
			if !yield(ev) {
				return
			}
		}
	}
}
