// Package store persists conversations. Two backends are provided: one JSON
// file per conversation, and a single SQLite table.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/models"
)

var (
	// ErrNotFound is returned when no conversation has the requested id.
	ErrNotFound = errors.New("conversation not found")
	// ErrInvalidID is returned for ids that are empty or unsafe as keys.
	ErrInvalidID = errors.New("invalid conversation id")
)

// Store is the conversation repository used by the chat service.
type Store interface {
	// Save writes the full message history. created_at is kept from a
	// previous save, updated_at is refreshed, and empty metadata fields do
	// not clear stored ones.
	Save(ctx context.Context, id string, messages []models.Message, meta models.ConversationMetadata) error
	Load(ctx context.Context, id string) (models.Conversation, error)
	Delete(ctx context.Context, id string) error
	// List returns summaries, most recently updated first.
	List(ctx context.Context) ([]models.ConversationSummary, error)
	UpdateMetadata(ctx context.Context, id string, meta models.ConversationMetadata) error
	// PruneBefore deletes conversations last updated before t.
	PruneBefore(ctx context.Context, t time.Time) (int, error)
	Close() error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateID rejects ids that cannot safely be used as file names or keys.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// merge applies the non-empty fields of update over current and stamps the
// timestamps.
func merge(current, update models.ConversationMetadata, now time.Time) models.ConversationMetadata {
	out := current
	if update.Title != "" {
		out.Title = update.Title
	}
	if update.LastProvider != "" {
		out.LastProvider = update.LastProvider
	}
	if update.LastModel != "" {
		out.LastModel = update.LastModel
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = update.CreatedAt
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out
}

// Open returns the backend selected by cfg. When SQLite cannot be opened the
// file backend is used instead.
func Open(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Driver == config.DriverSQLite {
		s, err := NewSQLiteStore(cfg.SQLitePath)
		if err == nil {
			logger.Info("conversation store ready", "driver", config.DriverSQLite, "path", cfg.SQLitePath)
			return s, nil
		}
		logger.Warn("sqlite store unavailable, falling back to file storage", "path", cfg.SQLitePath, "error", err)
	}

	s, err := NewFileStore(cfg.Dir)
	if err != nil {
		return nil, err
	}
	logger.Info("conversation store ready", "driver", config.DriverFile, "dir", cfg.Dir)
	return s, nil
}
