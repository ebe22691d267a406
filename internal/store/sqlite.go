// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Recent-session persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a store at the given path. The schema is created if
// it doesn't exist; parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			last_active_at TIMESTAMP NOT NULL,
			current_agent TEXT NOT NULL DEFAULT '',
			plan_name TEXT NOT NULL DEFAULT '',
			policy_number TEXT NOT NULL DEFAULT '',
			completed INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_last_active
			ON sessions(last_active_at DESC);

		CREATE TABLE IF NOT EXISTS current_session (
			slot INTEGER PRIMARY KEY CHECK (slot = 1),
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// SaveSession inserts or updates a record and bumps its last-active time.
func (s *SQLiteStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	now := time.Now().UTC()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, last_active_at, current_agent, plan_name, policy_number, completed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_active_at = excluded.last_active_at,
			current_agent = excluded.current_agent,
			plan_name = excluded.plan_name,
			policy_number = excluded.policy_number,
			completed = excluded.completed`,
		rec.ID, createdAt, now, rec.CurrentAgent, rec.PlanName, rec.PolicyNumber, rec.Completed)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// GetSession returns one record by id, or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, last_active_at, current_agent, plan_name, policy_number, completed
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListRecent returns up to limit records, most recently active first.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, last_active_at, current_agent, plan_name, policy_number, completed
		FROM sessions ORDER BY last_active_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		rec := &SessionRecord{}
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.LastActiveAt,
			&rec.CurrentAgent, &rec.PlanName, &rec.PolicyNumber, &rec.Completed); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetCurrent marks id as the session to resume, replacing any previous
// marker. The session must already be saved.
func (s *SQLiteStore) SetCurrent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO current_session (slot, session_id) VALUES (1, ?)
		ON CONFLICT(slot) DO UPDATE SET session_id = excluded.session_id`, id)
	if err != nil {
		return fmt.Errorf("setting current session: %w", err)
	}
	return nil
}

// Current returns the record marked current, or ErrNotFound.
func (s *SQLiteStore) Current(ctx context.Context) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.created_at, s.last_active_at, s.current_agent, s.plan_name, s.policy_number, s.completed
		FROM sessions s JOIN current_session c ON c.session_id = s.id
		WHERE c.slot = 1`)
	return scanSession(row)
}

// ClearCurrent removes the current marker.
func (s *SQLiteStore) ClearCurrent(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM current_session WHERE slot = 1`); err != nil {
		return fmt.Errorf("clearing current session: %w", err)
	}
	return nil
}

// DeleteSession removes a record. The current marker cascades away when it
// points at the deleted session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSession(row *sql.Row) (*SessionRecord, error) {
	rec := &SessionRecord{}
	err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.LastActiveAt,
		&rec.CurrentAgent, &rec.PlanName, &rec.PolicyNumber, &rec.Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return rec, nil
}
