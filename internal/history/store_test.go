package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "herald.db"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SessionRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	sessionID, err := store.NewSession(ctx, "weather chat")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	turns := []struct{ role, content string }{
		{"user", "what's the weather?"},
		{"assistant", "let me check"},
		{"user", "in oslo please"},
	}
	for _, turn := range turns {
		if _, err := store.AppendMessage(ctx, sessionID, turn.role, turn.content); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := store.RecentMessages(ctx, sessionID, 0)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, turn := range turns {
		if msgs[i].Role != turn.role || msgs[i].Content != turn.content {
			t.Errorf("message %d = %s %q, want %s %q",
				i, msgs[i].Role, msgs[i].Content, turn.role, turn.content)
		}
	}
}

func TestStore_RecentMessagesLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	sessionID, err := store.NewSession(ctx, "")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	for _, content := range []string{"one", "two", "three", "four"} {
		if _, err := store.AppendMessage(ctx, sessionID, "user", content); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := store.RecentMessages(ctx, sessionID, 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "three" || msgs[1].Content != "four" {
		t.Errorf("limited messages = %q, %q; want the last two in order",
			msgs[0].Content, msgs[1].Content)
	}
}

func TestStore_RecordToolCall(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	sessionID, err := store.NewSession(ctx, "")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	err = store.RecordToolCall(ctx, sessionID, "mcp_files_read_file",
		map[string]any{"path": "notes.txt"}, "file contents", nil, 42*time.Millisecond)
	if err != nil {
		t.Fatalf("RecordToolCall: %v", err)
	}
	err = store.RecordToolCall(ctx, sessionID, "mcp_weather_forecast",
		nil, "", errors.New("server returned 404 Not Found"), time.Millisecond)
	if err != nil {
		t.Fatalf("RecordToolCall: %v", err)
	}

	calls, err := store.ToolCalls(ctx, sessionID)
	if err != nil {
		t.Fatalf("ToolCalls: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(calls))
	}

	ok := calls[0]
	if ok.Tool != "mcp_files_read_file" || ok.IsError {
		t.Errorf("calls[0] = %+v", ok)
	}
	if ok.Arguments != `{"path":"notes.txt"}` {
		t.Errorf("arguments = %q", ok.Arguments)
	}
	if ok.Duration != 42*time.Millisecond {
		t.Errorf("duration = %v, want 42ms", ok.Duration)
	}

	failed := calls[1]
	if !failed.IsError {
		t.Error("failed call not marked as error")
	}
	if failed.Result != "server returned 404 Not Found" {
		t.Errorf("failed result = %q", failed.Result)
	}
}

func TestStore_Sessions(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first, err := store.NewSession(ctx, "first")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	second, err := store.NewSession(ctx, "second")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := store.AppendMessage(ctx, first, "user", "hi"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	sessions, err := store.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != second || sessions[1].ID != first {
		t.Error("sessions not newest first")
	}
	if sessions[1].Messages != 1 {
		t.Errorf("first session has %d messages, want 1", sessions[1].Messages)
	}
	if sessions[0].Messages != 0 {
		t.Errorf("second session has %d messages, want 0", sessions[0].Messages)
	}
}

func TestStore_MessagesIsolatedBySession(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	a, err := store.NewSession(ctx, "a")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	b, err := store.NewSession(ctx, "b")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := store.AppendMessage(ctx, a, "user", "for a"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := store.AppendMessage(ctx, b, "user", "for b"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := store.RecentMessages(ctx, a, 0)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "for a" {
		t.Errorf("session a messages = %+v", msgs)
	}
}
