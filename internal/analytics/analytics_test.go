package analytics

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTracker_TrackAndStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "analytics.json")
	tr := NewTracker(path)
	today := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	tr.now = func() time.Time { return today.AddDate(0, 0, -30) }
	if err := tr.Track("openai", "gpt-4", 500); err != nil {
		t.Fatalf("Track: %v", err)
	}

	tr.now = func() time.Time { return today }
	calls := []struct {
		provider, model string
		tokens          int
	}{
		{"openai", "gpt-4o-mini", 12},
		{"openai", "gpt-4o-mini", 8},
		{"claude", "", 30},
	}
	for _, c := range calls {
		if err := tr.Track(c.provider, c.model, c.tokens); err != nil {
			t.Fatalf("Track: %v", err)
		}
	}

	stats, err := tr.Stats(7)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalRequests != 3 || stats.TotalTokens != 50 {
		t.Fatalf("totals: got %+v", stats)
	}
	if got := stats.ByProvider["openai"]; got.Requests != 2 || got.Tokens != 20 {
		t.Fatalf("openai: got %+v", got)
	}
	if stats.ByModel["gpt-4o-mini"] != 2 || stats.ByModel["default"] != 1 {
		t.Fatalf("by_model: got %v", stats.ByModel)
	}
	if _, ok := stats.ByModel["gpt-4"]; ok {
		t.Fatal("entries outside the window must not be counted")
	}

	all, err := tr.Stats(60)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if all.TotalRequests != 4 {
		t.Fatalf("60 day window: got %+v", all)
	}
}

func TestTracker_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	stats, err := NewTracker(path).Stats(7)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalRequests != 0 || stats.ByProvider == nil {
		t.Fatalf("stats: got %+v", stats)
	}
}

func TestTracker_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	tr := NewTracker(path)
	if err := tr.Track("openai", "gpt-4o", 1); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestTracker_LegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.json")
	legacy := `{
    "2024-05-10": {
        "openai": {"requests": 2, "tokens": 40, "models": {"gpt-4o": 2}},
        "gemini": {"requests": 1, "tokens": 0, "models": []}
    }
}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	tr := NewTracker(path)
	tr.now = func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) }

	if err := tr.Track("gemini", "gemini-pro", 5); err != nil {
		t.Fatalf("Track: %v", err)
	}
	stats, err := tr.Stats(1)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalRequests != 4 || stats.TotalTokens != 45 {
		t.Fatalf("totals: got %+v", stats)
	}
	if got := stats.ByProvider["gemini"]; got.Requests != 2 || got.Tokens != 5 {
		t.Fatalf("gemini: got %+v", got)
	}
	if stats.ByModel["gpt-4o"] != 2 || stats.ByModel["gemini-pro"] != 1 {
		t.Fatalf("by_model: got %v", stats.ByModel)
	}
}

func TestTracker_EmptyArrayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.json")
	if err := os.WriteFile(path, []byte("[]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tr := NewTracker(path)
	if err := tr.Track("claude", "claude-3", 3); err != nil {
		t.Fatalf("Track: %v", err)
	}
	stats, err := tr.Stats(0)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalRequests != 1 || stats.ByModel["claude-3"] != 1 {
		t.Fatalf("stats: got %+v", stats)
	}
}
