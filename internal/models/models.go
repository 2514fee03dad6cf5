package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Role identifies the author of a conversational message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the supported chat roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message represents a single conversational message in the canonical schema.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries the per-request knobs understood by adapters.
// Adapters ignore the options they have no vendor mapping for.
type ChatOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	Stream      bool
	Functions   json.RawMessage
}

// Usage records token accounting information.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Billable returns the token count used for analytics: the total when the
// vendor reports one, the input count otherwise.
func (u Usage) Billable() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens
}

// Metadata describes a completed vendor call.
type Metadata struct {
	Model        string `json:"model"`
	Usage        Usage  `json:"usage"`
	FinishReason string `json:"finish_reason"`
}

// ChatResponse is the canonical result of one adapter call. Values are built
// through Success or Failure and are not modified afterwards.
type ChatResponse struct {
	Success      bool
	Content      string
	Raw          json.RawMessage
	ErrorMessage string
	Metadata     Metadata

	// Err keeps the classified cause of a failure for errors.Is checks.
	Err error
}

// Success builds a successful response.
func Success(content string, raw json.RawMessage, metadata Metadata) ChatResponse {
	return ChatResponse{
		Success:  true,
		Content:  content,
		Raw:      raw,
		Metadata: metadata,
	}
}

// Failure builds a failed response. An empty message is replaced so that a
// failure never reaches callers without an explanation.
func Failure(message string, raw json.RawMessage, cause error) ChatResponse {
	if message == "" {
		message = "Unknown error"
	}
	return ChatResponse{
		Success:      false,
		Raw:          raw,
		ErrorMessage: message,
		Err:          cause,
	}
}

// Capabilities is the static feature descriptor of an adapter.
type Capabilities struct {
	SupportsStreaming       bool     `json:"streaming"`
	SupportsFunctionCalling bool     `json:"function_calling"`
	SupportsVision          bool     `json:"vision"`
	MaxTokens               int      `json:"max_tokens"`
	Features                []string `json:"features"`
}

// HasFeature reports whether the feature tag is advertised.
func (c Capabilities) HasFeature(feature string) bool {
	return slices.Contains(c.Features, feature)
}

// StreamEvent is one element of a chat stream. Exactly one event per stream
// has Done set; it is either a terminal event with the full content or an
// error event.
type StreamEvent struct {
	Token   string
	Content string
	Done    bool
	Error   string
}

// Failed reports whether the event terminated the stream with an error.
func (e StreamEvent) Failed() bool {
	return e.Done && e.Error != ""
}

// ConversationMetadata holds descriptive fields of a stored conversation.
type ConversationMetadata struct {
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastProvider string    `json:"last_provider,omitempty"`
	LastModel    string    `json:"last_model,omitempty"`
}

// LegacyTimeLayout is the local-time timestamp format of conversation files
// written by the PHP version of the service.
const LegacyTimeLayout = "2006-01-02 15:04:05"

// UnmarshalJSON accepts RFC 3339 and legacy timestamps. Empty timestamps and
// an empty JSON array for the whole object decode to zero values.
func (m *ConversationMetadata) UnmarshalJSON(data []byte) error {
	if IsEmptyJSONArray(data) {
		*m = ConversationMetadata{}
		return nil
	}

	type alias ConversationMetadata
	var raw struct {
		alias
		CreatedAt string `json:"created_at"`
		UpdatedAt string `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	createdAt, err := ParseTimestamp(raw.CreatedAt)
	if err != nil {
		return fmt.Errorf("created_at: %w", err)
	}
	updatedAt, err := ParseTimestamp(raw.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updated_at: %w", err)
	}

	*m = ConversationMetadata(raw.alias)
	m.CreatedAt = createdAt
	m.UpdatedAt = updatedAt
	return nil
}

// ParseTimestamp parses an RFC 3339 or legacy timestamp. Legacy values are
// read in the local time zone. An empty string yields the zero time.
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(LegacyTimeLayout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported timestamp %q", value)
	}
	return t, nil
}

// IsEmptyJSONArray reports whether data is "[]". PHP encodes empty
// associative arrays that way.
func IsEmptyJSONArray(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("[]"))
}

// Conversation is a persisted chat thread.
type Conversation struct {
	ID       string               `json:"id"`
	Messages []Message            `json:"messages"`
	Metadata ConversationMetadata `json:"metadata"`
}

// ConversationSummary is the listing view of a conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Summary returns the listing view of the conversation.
func (c Conversation) Summary() ConversationSummary {
	title := c.Metadata.Title
	if title == "" {
		title = "Untitled"
	}
	return ConversationSummary{
		ID:           c.ID,
		Title:        title,
		UpdatedAt:    c.Metadata.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}
