// Package translator maps the JSON wire format of the chat API onto router
// requests and back.
package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chatrelay/internal/models"
	"chatrelay/internal/router"
)

var (
	errEmptyMessages   = errors.New("messages cannot be empty")
	errInvalidRole     = errors.New("invalid role")
	errInvalidContent  = errors.New("invalid message content")
	errInvalidSampling = errors.New("temperature must be between 0 and 2")
	errInvalidBudget   = errors.New("max_tokens must not be negative")
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Provider    string
	Model       string
	Messages    []ChatMessage
	Temperature *float64
	MaxTokens   int
	SessionID   string
	Stream      bool
	Functions   json.RawMessage
}

// chatOptions are merged over the top-level fields, as the web client sends
// per-provider extras there.
type chatOptions struct {
	Model       string          `json:"model"`
	Temperature *float64        `json:"temperature"`
	MaxTokens   *int            `json:"max_tokens"`
	Functions   json.RawMessage `json:"functions"`
}

// UnmarshalJSON decodes and validates a chat request.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Provider    string        `json:"provider"`
		Model       string        `json:"model"`
		Messages    []ChatMessage `json:"messages"`
		Temperature *float64      `json:"temperature"`
		MaxTokens   *int          `json:"max_tokens"`
		SessionID   string        `json:"session_id"`
		Stream      bool          `json:"stream"`
		Options     *chatOptions  `json:"options"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	r.Provider = strings.ToLower(strings.TrimSpace(raw.Provider))
	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Temperature = raw.Temperature
	r.SessionID = strings.TrimSpace(raw.SessionID)
	r.Stream = raw.Stream
	if raw.MaxTokens != nil {
		r.MaxTokens = *raw.MaxTokens
	}

	if o := raw.Options; o != nil {
		if m := strings.TrimSpace(o.Model); m != "" {
			r.Model = m
		}
		if o.Temperature != nil {
			r.Temperature = o.Temperature
		}
		if o.MaxTokens != nil {
			r.MaxTokens = *o.MaxTokens
		}
		if len(o.Functions) > 0 && string(o.Functions) != "null" {
			r.Functions = o.Functions
		}
	}

	return r.validate()
}

func (r *ChatRequest) validate() error {
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return errInvalidSampling
	}
	if r.MaxTokens < 0 {
		return errInvalidBudget
	}
	return nil
}

// ToRouter converts the wire request into a router request.
func (r ChatRequest) ToRouter() router.Request {
	msgs := make([]models.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msgs = append(msgs, models.Message{Role: m.Role, Content: m.Content})
	}
	return router.Request{
		Provider:    r.Provider,
		Model:       r.Model,
		Messages:    msgs,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		SessionID:   r.SessionID,
		Functions:   r.Functions,
	}
}

// ChatMessage is one message of the request history.
type ChatMessage struct {
	Role    models.Role
	Content string
}

// UnmarshalJSON accepts string content and arrays of text segments.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	role := models.Role(strings.ToLower(strings.TrimSpace(raw.Role)))
	if !role.Valid() {
		return fmt.Errorf("%w: %q", errInvalidRole, raw.Role)
	}
	m.Role = role
	m.Content = content
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing content", errInvalidContent)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}
