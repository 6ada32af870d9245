// Package history persists chat sessions to SQLite.
//
// Every user and assistant turn is recorded, along with each tool
// invocation the model made on the way to its answer. The store is the
// source of truth for conversation context across restarts.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS tool_calls (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES sessions(id),
	tool        TEXT NOT NULL,
	arguments   TEXT NOT NULL DEFAULT '{}',
	result      TEXT NOT NULL DEFAULT '',
	is_error    INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, created_at);
`

// Message is one stored chat turn.
type Message struct {
	ID        string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Session is one stored conversation.
type Session struct {
	ID        string
	Title     string
	CreatedAt time.Time
	Messages  int
}

// ToolCall is one stored tool invocation.
type ToolCall struct {
	ID        string
	Tool      string
	Arguments string
	Result    string
	IsError   bool
	Duration  time.Duration
	CreatedAt time.Time
}

// Store wraps the SQLite database holding sessions, messages, and tool
// calls.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (creating if needed) the database at path and applies
// the schema.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	logger.Debug("history store ready", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// NewSession creates a session and returns its id.
func (s *Store) NewSession(ctx context.Context, title string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title) VALUES (?, ?)`, id.String(), title)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id.String(), nil
}

// AppendMessage records one chat turn and returns the message id.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content) VALUES (?, ?, ?, ?)`,
		id.String(), sessionID, role, content)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id.String(), nil
}

// RecordToolCall records one tool invocation and its outcome.
func (s *Store) RecordToolCall(ctx context.Context, sessionID, tool string, args map[string]any, result string, callErr error, took time.Duration) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate tool call id: %w", err)
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	isError := 0
	if callErr != nil {
		isError = 1
		result = callErr.Error()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (id, session_id, tool, arguments, result, is_error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), sessionID, tool, string(argsJSON), result, isError, took.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages of a session in
// chronological order. A limit of zero or less returns all of them.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	query := `SELECT id, role, content, created_at FROM messages
	          WHERE session_id = ? ORDER BY rowid DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	// Newest-first from the query; flip to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Sessions returns the most recent sessions, newest first, with their
// message counts.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.title, s.created_at, COUNT(m.id)
		 FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		 GROUP BY s.id ORDER BY s.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.Messages); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	return sessions, nil
}

// ToolCalls returns a session's tool invocations in chronological
// order.
func (s *Store) ToolCalls(ctx context.Context, sessionID string) ([]ToolCall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool, arguments, result, is_error, duration_ms, created_at
		 FROM tool_calls WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var calls []ToolCall
	for rows.Next() {
		var (
			tc      ToolCall
			isError int
			ms      int64
		)
		if err := rows.Scan(&tc.ID, &tc.Tool, &tc.Arguments, &tc.Result, &isError, &ms, &tc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		tc.IsError = isError != 0
		tc.Duration = time.Duration(ms) * time.Millisecond
		calls = append(calls, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tool calls: %w", err)
	}
	return calls, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
