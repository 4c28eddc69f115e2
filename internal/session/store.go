// Package session persists conversations in SQLite. The store owns the
// canonical records; request handling works on clones and appends results
// back in one transaction.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// DefaultMessageCap bounds how many messages a session retains. Older
// messages are pruned on append, oldest first.
const DefaultMessageCap = 200

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	channel    TEXT NOT NULL,
	mode       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	tool_calls   TEXT,
	tool_call_id TEXT,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
CREATE TABLE IF NOT EXISTS metrics (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	trace_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	value      REAL NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_session ON metrics(session_id);
`

// Store is the SQLite-backed session repository.
type Store struct {
	db         *sql.DB
	messageCap int
	logger     *logging.Logger
}

// Open creates or opens the database at path and applies the schema.
// Pass ":memory:" for an ephemeral store.
func Open(path string, messageCap int, logger *logging.Logger) (*Store, error) {
	if messageCap <= 0 {
		messageCap = DefaultMessageCap
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	// The sqlite driver serialises writes; one connection avoids lock
	// contention errors under concurrent appends.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply session schema: %w", err)
	}
	return &Store{
		db:         db,
		messageCap: messageCap,
		logger:     logging.OrNop(logger).Component("session"),
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new empty session.
func (s *Store) Create(ctx context.Context, channel types.Channel, mode types.Mode) (*types.Session, error) {
	now := time.Now().UTC()
	sess := &types.Session{
		ID:        uuid.NewString(),
		Channel:   channel,
		Mode:      mode,
		CreatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, channel, mode, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, string(channel), string(mode), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	s.logger.Info("session created", "session_id", sess.ID, "channel", string(channel))
	return sess, nil
}

// Get loads a session with its full message history.
func (s *Store) Get(ctx context.Context, id string) (*types.Session, error) {
	sess := &types.Session{ID: id}
	var channel, mode string
	err := s.db.QueryRowContext(ctx,
		`SELECT channel, mode, created_at FROM sessions WHERE id = ?`, id).
		Scan(&channel, &mode, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.UserInput(fmt.Sprintf("session %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.Channel = types.Channel(channel)
	sess.Mode = types.Mode(mode)

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id FROM messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role, content string
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&role, &content, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg := types.Message{Role: types.Role(role), Content: content, ToolCallID: toolCallID.String}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				s.logger.Warn("corrupt tool_calls column, dropping", "session_id", id, "err", err)
			}
		}
		sess.Messages = append(sess.Messages, msg)
	}
	return sess, rows.Err()
}

// Append adds messages to a session in one transaction and prunes history
// beyond the message cap.
func (s *Store) Append(ctx context.Context, id string, messages ...types.Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return errors.UserInput(fmt.Sprintf("session %s not found", id))
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM messages WHERE session_id = ?`, id).Scan(&maxSeq); err != nil {
		return fmt.Errorf("read message sequence: %w", err)
	}
	seq := maxSeq.Int64

	now := time.Now().UTC()
	for _, msg := range messages {
		seq++
		var toolCalls any
		if len(msg.ToolCalls) > 0 {
			data, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCalls = string(data)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, seq, role, content, tool_calls, tool_call_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, seq, string(msg.Role), msg.Content, toolCalls, nullable(msg.ToolCallID), now)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND seq <= ?`, id, seq-int64(s.messageCap))
	if err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

// Replace swaps a session's entire message history, used by conversation
// compression.
func (s *Store) Replace(ctx context.Context, id string, messages []types.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	now := time.Now().UTC()
	for i, msg := range messages {
		var toolCalls any
		if len(msg.ToolCalls) > 0 {
			data, _ := json.Marshal(msg.ToolCalls)
			toolCalls = string(data)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, seq, role, content, tool_calls, tool_call_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, i+1, string(msg.Role), msg.Content, toolCalls, nullable(msg.ToolCallID), now)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID        string        `json:"session_id"`
	Channel   types.Channel `json:"channel"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  int           `json:"message_count"`
}

// List returns the most recently active sessions.
func (s *Store) List(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.channel, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s ORDER BY s.updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var row SessionSummary
		var channel string
		if err := rows.Scan(&row.ID, &channel, &row.CreatedAt, &row.UpdatedAt, &row.Messages); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		row.Channel = types.Channel(channel)
		out = append(out, row)
	}
	return out, rows.Err()
}

// RecordMetric stores one per-request measurement tied to a session.
func (s *Store) RecordMetric(ctx context.Context, sessionID, traceID, name string, value float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics (session_id, trace_id, name, value, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, traceID, name, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

// DeleteIdleBefore removes sessions not touched since the cutoff. Returns the
// number of sessions removed.
func (s *Store) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.logger.Info("idle sessions removed", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
