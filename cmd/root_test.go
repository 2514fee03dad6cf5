package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chatrelay/internal/config"
	"chatrelay/internal/models"
	"chatrelay/internal/store"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	for _, np := range (config.ProvidersConfig{}).List() {
		t.Setenv(np.EnvKey, "")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecute_Usage(t *testing.T) {
	out := captureStdout(t)
	if err := Execute(context.Background(), nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "providers") {
		t.Fatalf("usage: %s", out.String())
	}
	if err := Execute(context.Background(), []string{"bogus"}); err == nil {
		t.Fatal("expected unknown command error")
	}
}

func TestProvidersCommand(t *testing.T) {
	out := captureStdout(t)
	path := writeConfig(t, "providers:\n  gemini:\n    api_key: g-key\n")

	if err := Execute(context.Background(), []string{"providers", "--config", path}); err != nil {
		t.Fatalf("providers: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("output:\n%s", out.String())
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		want := "no"
		if fields[0] == "gemini" {
			want = "yes"
		}
		if fields[1] != want {
			t.Errorf("%s: got %s, want %s", fields[0], fields[1], want)
		}
	}
}

func TestExportCommand(t *testing.T) {
	path := writeConfig(t, "storage:\n  dir: conversations\n")
	dir := filepath.Join(filepath.Dir(path), "conversations")

	s, err := store.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	msgs := []models.Message{{Role: models.RoleUser, Content: "hi"}, {Role: models.RoleAssistant, Content: "hello"}}
	if err := s.Save(context.Background(), "session_1", msgs, models.ConversationMetadata{Title: "Greeting"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out := captureStdout(t)
	if err := Execute(context.Background(), []string{"export", "--config", path, "--id", "session_1", "--format", "txt"}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Conversation: Greeting\n") || !strings.Contains(out.String(), "[Assistant]:\nhello") {
		t.Fatalf("export output:\n%s", out.String())
	}

	if err := Execute(context.Background(), []string{"export", "--config", path, "--id", "missing"}); err == nil {
		t.Fatal("expected error for missing conversation")
	}
}
