// Package export renders conversations as downloadable documents and imports
// previously exported JSON.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"chatrelay/internal/models"
	"chatrelay/internal/store"
)

// Format is a supported export format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatText     Format = "txt"
	FormatMarkdown Format = "markdown"
)

const dateLayout = "2006-01-02 15:04:05"

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrInvalidImport     = errors.New("invalid import document")
)

// ParseFormat resolves a format name. An empty name selects JSON.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatText, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// ContentType returns the MIME type of the rendered document.
func (f Format) ContentType() string {
	switch f {
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json"
	}
}

// Filename suggests a download name for the conversation.
func (f Format) Filename(id string) string {
	ext := string(f)
	if f == FormatMarkdown {
		ext = "md"
	}
	return "conversation_" + id + "." + ext
}

// Export renders conv in the requested format.
func Export(conv models.Conversation, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		if conv.Messages == nil {
			conv.Messages = []models.Message{}
		}
		data, err := json.MarshalIndent(conv, "", "    ")
		if err != nil {
			return nil, fmt.Errorf("encode conversation: %w", err)
		}
		return data, nil
	case FormatText:
		return []byte(toText(conv)), nil
	case FormatMarkdown:
		return []byte(toMarkdown(conv)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func toText(conv models.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation: %s\n", title(conv))
	fmt.Fprintf(&b, "Date: %s\n\n", date(conv))
	for _, msg := range conv.Messages {
		fmt.Fprintf(&b, "[%s]:\n%s\n\n", roleLabel(msg.Role), msg.Content)
	}
	return b.String()
}

func toMarkdown(conv models.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title(conv))
	fmt.Fprintf(&b, "**Date:** %s\n\n", date(conv))
	b.WriteString("---\n\n")
	for _, msg := range conv.Messages {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", roleLabel(msg.Role), msg.Content)
	}
	return b.String()
}

func title(conv models.Conversation) string {
	if conv.Metadata.Title == "" {
		return "Untitled"
	}
	return conv.Metadata.Title
}

func date(conv models.Conversation) string {
	if conv.Metadata.CreatedAt.IsZero() {
		return ""
	}
	return conv.Metadata.CreatedAt.Format(dateLayout)
}

func roleLabel(role models.Role) string {
	s := string(role)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

type document struct {
	ID       string                       `json:"id"`
	Messages *[]models.Message            `json:"messages"`
	Metadata *models.ConversationMetadata `json:"metadata"`
}

// Import stores a JSON export and returns its id. Slightly malformed JSON,
// such as trailing commas or unquoted keys, is repaired first. The id of the
// document is kept when it is usable, otherwise an imported_<uuid> id is
// assigned.
func Import(ctx context.Context, s store.Store, data []byte) (string, error) {
	doc, err := decode(data)
	if err != nil {
		return "", err
	}
	if doc.Messages == nil {
		return "", fmt.Errorf("%w: messages are required", ErrInvalidImport)
	}
	for i, msg := range *doc.Messages {
		if !msg.Role.Valid() {
			return "", fmt.Errorf("%w: message %d has unsupported role %q", ErrInvalidImport, i, msg.Role)
		}
	}

	id := strings.TrimSpace(doc.ID)
	if store.ValidateID(id) != nil {
		id = "imported_" + uuid.NewString()
	}

	var meta models.ConversationMetadata
	if doc.Metadata != nil {
		meta = *doc.Metadata
	}
	if err := s.Save(ctx, id, *doc.Messages, meta); err != nil {
		return "", fmt.Errorf("save imported conversation: %w", err)
	}
	return id, nil
}

func decode(data []byte) (document, error) {
	var doc document
	err := json.Unmarshal(data, &doc)
	if err == nil {
		return doc, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return document{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	doc = document{}
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return document{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	return doc, nil
}
