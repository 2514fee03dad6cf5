// Package analytics aggregates per-day usage counters in a JSON file.
package analytics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// ProviderDay is the counter set of one provider on one day.
type ProviderDay struct {
	Requests int         `json:"requests"`
	Tokens   int         `json:"tokens"`
	Models   ModelCounts `json:"models"`
}

// ModelCounts maps a model name to its request count.
type ModelCounts map[string]int

// UnmarshalJSON accepts an empty JSON array, which is how PHP writes an
// empty map.
func (m *ModelCounts) UnmarshalJSON(data []byte) error {
	if isEmptyArray(data) {
		*m = ModelCounts{}
		return nil
	}
	counts := map[string]int{}
	if err := json.Unmarshal(data, &counts); err != nil {
		return err
	}
	*m = counts
	return nil
}

func isEmptyArray(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("[]"))
}

// ProviderTotals summarises a provider over the requested window.
type ProviderTotals struct {
	Requests int `json:"requests"`
	Tokens   int `json:"tokens"`
}

// Stats is the aggregated view returned by the analytics endpoint.
type Stats struct {
	TotalRequests int                       `json:"total_requests"`
	TotalTokens   int                       `json:"total_tokens"`
	ByProvider    map[string]ProviderTotals `json:"by_provider"`
	ByModel       map[string]int            `json:"by_model"`
}

// Tracker records successful chat requests. The file is read and rewritten
// on every call; it is guarded by a mutex within the process.
type Tracker struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewTracker(path string) *Tracker {
	return &Tracker{path: path, now: time.Now}
}

// Track counts one request for provider and model. An empty model is
// recorded as "default".
func (t *Tracker) Track(provider, model string, tokens int) error {
	if model == "" {
		model = "default"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := t.load()
	if err != nil {
		return err
	}

	date := t.now().Format(dateLayout)
	day := data[date]
	if day == nil {
		day = make(map[string]*ProviderDay)
		data[date] = day
	}
	entry := day[provider]
	if entry == nil {
		entry = &ProviderDay{Models: make(ModelCounts)}
		day[provider] = entry
	}
	if entry.Models == nil {
		entry.Models = make(ModelCounts)
	}
	entry.Requests++
	entry.Tokens += tokens
	entry.Models[model]++

	return t.save(data)
}

// Stats aggregates the last days days, today included.
func (t *Tracker) Stats(days int) (Stats, error) {
	if days < 0 {
		days = 0
	}

	t.mu.Lock()
	data, err := t.load()
	t.mu.Unlock()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		ByProvider: make(map[string]ProviderTotals),
		ByModel:    make(map[string]int),
	}
	cutoff := t.now().AddDate(0, 0, -days).Format(dateLayout)
	for date, day := range data {
		// ISO dates compare lexically.
		if date < cutoff {
			continue
		}
		for provider, entry := range day {
			totals := stats.ByProvider[provider]
			totals.Requests += entry.Requests
			totals.Tokens += entry.Tokens
			stats.ByProvider[provider] = totals

			stats.TotalRequests += entry.Requests
			stats.TotalTokens += entry.Tokens
			for model, count := range entry.Models {
				stats.ByModel[model] += count
			}
		}
	}
	return stats, nil
}

type fileData map[string]map[string]*ProviderDay

func (t *Tracker) load() (fileData, error) {
	raw, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileData{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read analytics: %w", err)
	}

	data := fileData{}
	if len(bytes.TrimSpace(raw)) == 0 || isEmptyArray(raw) {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode analytics: %w", err)
	}
	return data, nil
}

func (t *Tracker) save(data fileData) error {
	raw, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return fmt.Errorf("encode analytics: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create analytics directory: %w", err)
	}
	if err := os.WriteFile(t.path, raw, 0o644); err != nil {
		return fmt.Errorf("write analytics: %w", err)
	}
	return nil
}
