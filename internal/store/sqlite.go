package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"chatrelay/internal/models"
)

// SQLiteStore keeps conversations in a single table. Messages and metadata
// are stored as JSON; timestamps are duplicated into integer columns for
// ordering and pruning.
type SQLiteStore struct {
	db        *sql.DB
	now       func() time.Time
	mu        sync.Mutex
	closeOnce sync.Once

	saveStmt   *sql.Stmt
	loadStmt   *sql.Stmt
	deleteStmt *sql.Stmt
	listStmt   *sql.Stmt
	pruneStmt  *sql.Stmt
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		messages TEXT NOT NULL,
		metadata TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);
	`)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO conversations (id, title, messages, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			messages = excluded.messages,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare save statement: %w", err)
	}

	s.loadStmt, err = s.db.Prepare(`SELECT messages, metadata FROM conversations WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare load statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM conversations WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT id, title, updated_at, json_array_length(messages)
		FROM conversations
		ORDER BY updated_at DESC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("prepare list statement: %w", err)
	}

	s.pruneStmt, err = s.db.Prepare(`DELETE FROM conversations WHERE updated_at < ?`)
	if err != nil {
		return fmt.Errorf("prepare prune statement: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, id string, messages []models.Message, meta models.ConversationMetadata) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current models.ConversationMetadata
	if existing, err := s.load(ctx, id); err == nil {
		current = existing.Metadata
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if messages == nil {
		messages = []models.Message{}
	}
	return s.write(ctx, models.Conversation{
		ID:       id,
		Messages: messages,
		Metadata: merge(current, meta, s.now()),
	})
}

func (s *SQLiteStore) write(ctx context.Context, conv models.Conversation) error {
	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	metadataJSON, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.saveStmt.ExecContext(ctx,
		conv.ID,
		conv.Metadata.Title,
		string(messagesJSON),
		string(metadataJSON),
		conv.Metadata.CreatedAt.UnixNano(),
		conv.Metadata.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (models.Conversation, error) {
	if err := ValidateID(id); err != nil {
		return models.Conversation{}, err
	}
	return s.load(ctx, id)
}

func (s *SQLiteStore) load(ctx context.Context, id string) (models.Conversation, error) {
	var messagesJSON, metadataJSON string
	err := s.loadStmt.QueryRowContext(ctx, id).Scan(&messagesJSON, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("load conversation %s: %w", id, err)
	}

	conv := models.Conversation{ID: id}
	if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
		return models.Conversation{}, fmt.Errorf("decode messages of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &conv.Metadata); err != nil {
		return models.Conversation{}, fmt.Errorf("decode metadata of %s: %w", id, err)
	}
	return conv, nil
}

// Delete removes the conversation. Deleting an unknown id succeeds.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if _, err := s.deleteStmt.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.ConversationSummary, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []models.ConversationSummary
	for rows.Next() {
		var (
			summary   models.ConversationSummary
			updatedAt int64
		)
		if err := rows.Scan(&summary.ID, &summary.Title, &updatedAt, &summary.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if summary.Title == "" {
			summary.Title = "Untitled"
		}
		summary.UpdatedAt = time.Unix(0, updatedAt)
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateMetadata(ctx context.Context, id string, meta models.ConversationMetadata) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	conv.Metadata = merge(conv.Metadata, meta, s.now())
	return s.write(ctx, conv)
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, t time.Time) (int, error) {
	result, err := s.pruneStmt.ExecContext(ctx, t.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	return int(n), nil
}

// Close releases the prepared statements and the database. It is safe to
// call more than once.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.saveStmt, s.loadStmt, s.deleteStmt, s.listStmt, s.pruneStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}
