package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestConversationMetadata_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		created time.Time
		updated time.Time
		title   string
	}{
		{
			name:    "rfc3339",
			data:    `{"title": "Go", "created_at": "2024-02-03T04:05:06Z", "updated_at": "2024-02-03T05:00:00+01:00"}`,
			created: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
			updated: time.Date(2024, 2, 3, 4, 0, 0, 0, time.UTC),
			title:   "Go",
		},
		{
			name:    "legacy local time",
			data:    `{"title": "Old", "created_at": "2024-02-03 04:05:06", "updated_at": "2024-02-04 10:00:00"}`,
			created: time.Date(2024, 2, 3, 4, 5, 6, 0, time.Local),
			updated: time.Date(2024, 2, 4, 10, 0, 0, 0, time.Local),
			title:   "Old",
		},
		{
			name:  "empty timestamps",
			data:  `{"title": "Fresh", "created_at": "", "updated_at": ""}`,
			title: "Fresh",
		},
		{
			name: "empty array",
			data: ` [] `,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var meta ConversationMetadata
			if err := json.Unmarshal([]byte(tt.data), &meta); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if meta.Title != tt.title {
				t.Fatalf("title: got %q want %q", meta.Title, tt.title)
			}
			if !meta.CreatedAt.Equal(tt.created) {
				t.Fatalf("created_at: got %v want %v", meta.CreatedAt, tt.created)
			}
			if !meta.UpdatedAt.Equal(tt.updated) {
				t.Fatalf("updated_at: got %v want %v", meta.UpdatedAt, tt.updated)
			}
		})
	}
}

func TestConversationMetadata_UnmarshalRejectsGarbage(t *testing.T) {
	var meta ConversationMetadata
	if err := json.Unmarshal([]byte(`{"created_at": "yesterday"}`), &meta); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

func TestConversationMetadata_RoundTripsRFC3339(t *testing.T) {
	in := ConversationMetadata{
		Title:     "Kept",
		CreatedAt: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
		UpdatedAt: time.Date(2024, 2, 3, 4, 6, 0, 0, time.UTC),
		LastModel: "gpt-4o",
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out ConversationMetadata
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Title != in.Title || out.LastModel != in.LastModel || !out.CreatedAt.Equal(in.CreatedAt) || !out.UpdatedAt.Equal(in.UpdatedAt) {
		t.Fatalf("got %+v want %+v", out, in)
	}
}
