// Package audit persists realtime session history to SQLite so operators can
// reconstruct who talked to which persona after the process exits.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

// Session is one persisted realtime session row.
type Session struct {
	ID           string
	UserID       string
	PersonaID    apibridge.PersonaID
	RoomID       string
	StartedAt    time.Time
	LastActivity time.Time
	MessageCount int64
	Active       bool
}

// Store wraps the session audit database. All methods are safe for concurrent
// use; database/sql serializes access to the single SQLite connection pool.
type Store struct {
	db *sql.DB
}

// Open creates or opens the audit database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		persona_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		last_activity DATETIME NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_persona ON sessions(persona_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(active);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionStarted inserts the session's initial row.
func (s *Store) SessionStarted(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, persona_id, room_id, started_at, last_activity, message_count, active)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 1)`,
		sess.ID, sess.UserID, string(sess.PersonaID), sess.RoomID,
		sess.StartedAt.UTC(), sess.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

// MessageRecorded bumps the session's message count and activity timestamp.
func (s *Store) MessageRecorded(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1, last_activity = ? WHERE id = ?`,
		at.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("record session message: %w", err)
	}
	return nil
}

// SessionEnded marks the session inactive. The row is never deleted.
func (s *Store) SessionEnded(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0, last_activity = ? WHERE id = ?`,
		at.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	return nil
}

// Session returns a single session row.
func (s *Store) Session(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, persona_id, room_id, started_at, last_activity, message_count, active
		 FROM sessions WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, fmt.Errorf("session %s: not found", sessionID)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return sess, nil
}

// RecentSessions returns up to limit sessions, newest start first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, persona_id, room_id, started_at, last_activity, message_count, active
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ActiveCount returns how many sessions are still flagged active.
func (s *Store) ActiveCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE active = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return count, nil
}

// Ping verifies the database is reachable, for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess      Session
		personaID string
		active    int
	)
	err := row.Scan(&sess.ID, &sess.UserID, &personaID, &sess.RoomID,
		&sess.StartedAt, &sess.LastActivity, &sess.MessageCount, &active)
	if err != nil {
		return Session{}, err
	}
	sess.PersonaID = apibridge.PersonaID(personaID)
	sess.Active = active == 1
	return sess, nil
}
