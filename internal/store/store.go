package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/moodlens/internal/session"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection that persists sessions, their emotion logs
// and snapshot paths. It implements session.Sink.
type Store struct {
	mu   sync.Mutex // pgx.Conn is not safe for concurrent use
	conn *pgx.Conn
}

// SessionInfo summarizes a stored session.
type SessionInfo struct {
	ID        string
	Name      string
	StartedAt time.Time
	EndedAt   *time.Time
	Entries   int
	Snapshots int
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS emotion_log (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			logged_at TIMESTAMPTZ NOT NULL,
			label TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL
		);
		CREATE TABLE IF NOT EXISTS snapshots (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			taken_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS emotion_log_session_idx ON emotion_log (session_id, logged_at);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// SessionStarted registers the session. Restarting an existing session keeps its
// original start time and clears the end time.
func (s *Store) SessionStarted(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sessions (id, started_at)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET ended_at = NULL
	`, id, at)
	return err
}

// SessionStopped stamps the end time.
func (s *Store) SessionStopped(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, "UPDATE sessions SET ended_at = $1 WHERE id = $2", at, id)
	return err
}

// Record appends one log entry.
func (s *Store) Record(ctx context.Context, id string, e session.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO emotion_log (session_id, logged_at, label, confidence)
		VALUES ($1, $2, $3, $4)
	`, id, e.Time, e.Label, e.Confidence)
	return err
}

// SnapshotSaved records where a snapshot was written.
func (s *Store) SnapshotSaved(ctx context.Context, id, path string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO snapshots (session_id, path, taken_at)
		VALUES ($1, $2, $3)
	`, id, path, at)
	return err
}

// ListSessions returns all sessions, newest first, with entry and snapshot counts.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, `
		SELECT s.id, s.name, s.started_at, s.ended_at,
			(SELECT COUNT(*) FROM emotion_log l WHERE l.session_id = s.id),
			(SELECT COUNT(*) FROM snapshots p WHERE p.session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var si SessionInfo
		if err := rows.Scan(&si.ID, &si.Name, &si.StartedAt, &si.EndedAt, &si.Entries, &si.Snapshots); err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// SessionLog returns the stored log of one session in time order.
func (s *Store) SessionLog(ctx context.Context, id string) ([]session.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	if err := s.conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)", id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.conn.Query(ctx, `
		SELECT logged_at, label, confidence FROM emotion_log
		WHERE session_id = $1
		ORDER BY logged_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.LogEntry
	for rows.Next() {
		var e session.LogEntry
		if err := rows.Scan(&e.Time, &e.Label, &e.Confidence); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RenameSession gives a session a human-readable name.
func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, err := s.conn.Exec(ctx, "UPDATE sessions SET name = $1 WHERE id = $2", name, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS snapshots CASCADE;
		DROP TABLE IF EXISTS emotion_log CASCADE;
		DROP TABLE IF EXISTS sessions CASCADE;
	`)
	return err
}
