package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/models"
)

// FileStore keeps one pretty-printed JSON document per conversation and a
// read-through cache of loaded conversations.
type FileStore struct {
	dir string
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]models.Conversation
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %q: %w", dir, err)
	}
	return &FileStore{
		dir:   dir,
		now:   time.Now,
		cache: make(map[string]models.Conversation),
	}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) Save(ctx context.Context, id string, messages []models.Message, meta models.ConversationMetadata) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current models.ConversationMetadata
	if existing, err := s.loadLocked(id); err == nil {
		current = existing.Metadata
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	conv := models.Conversation{
		ID:       id,
		Messages: slices.Clone(messages),
		Metadata: merge(current, meta, s.now()),
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	return s.writeLocked(conv)
}

func (s *FileStore) writeLocked(conv models.Conversation) error {
	data, err := json.MarshalIndent(conv, "", "    ")
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, conv.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(conv.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}

	s.cache[conv.ID] = conv
	return nil
}

func (s *FileStore) Load(ctx context.Context, id string) (models.Conversation, error) {
	if err := ValidateID(id); err != nil {
		return models.Conversation{}, err
	}

	s.mu.RLock()
	conv, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return cloneConversation(conv), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.loadLocked(id)
	if err != nil {
		return models.Conversation{}, err
	}
	return cloneConversation(conv), nil
}

func (s *FileStore) loadLocked(id string) (models.Conversation, error) {
	if conv, ok := s.cache[id]; ok {
		return conv, nil
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return models.Conversation{}, fmt.Errorf("read conversation %s: %w", id, err)
	}

	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	conv.ID = id
	s.cache[id] = conv
	return conv, nil
}

// Delete removes the conversation. Deleting an unknown id succeeds.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]models.ConversationSummary, error) {
	convs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		out = append(out, conv.Summary())
	}
	slices.SortFunc(out, func(a, b models.ConversationSummary) int {
		return cmp.Or(b.UpdatedAt.Compare(a.UpdatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// all loads every readable conversation in the directory. Unreadable files
// are skipped.
func (s *FileStore) all(ctx context.Context) ([]models.Conversation, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var convs []models.Conversation
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if ValidateID(id) != nil {
			continue
		}
		conv, err := s.loadLocked(id)
		if err != nil {
			continue
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (s *FileStore) UpdateMetadata(ctx context.Context, id string, meta models.ConversationMetadata) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	conv.Metadata = merge(conv.Metadata, meta, s.now())
	return s.writeLocked(conv)
}

func (s *FileStore) PruneBefore(ctx context.Context, t time.Time) (int, error) {
	convs, err := s.all(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, conv := range convs {
		if !conv.Metadata.UpdatedAt.Before(t) {
			continue
		}
		if err := s.Delete(ctx, conv.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *FileStore) Close() error {
	return nil
}

func cloneConversation(conv models.Conversation) models.Conversation {
	conv.Messages = slices.Clone(conv.Messages)
	return conv
}
