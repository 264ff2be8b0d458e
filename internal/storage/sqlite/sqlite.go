package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/goodtune/basetrack/internal/storage"
)

// Store keeps the state in three tables: active_sessions, history (with an
// explicit position column) and a single-row state_meta marker.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database, single connection)
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	if dsn != ":memory:" {
		if err := storage.EnsureParentDir(dsn); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Load reads the state inside one read transaction.
func (s *Store) Load(ctx context.Context) (*storage.State, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var savedAt string
	err = tx.QueryRowContext(ctx, `SELECT saved_at FROM state_meta WHERE id = 1`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state marker: %w", err)
	}

	state := storage.NewState()

	rows, err := tx.QueryContext(ctx, `SELECT user_id, started_at_ms FROM active_sessions`)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	for rows.Next() {
		var session storage.Session
		if err := rows.Scan(&session.UserID, &session.StartedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: scan active session: %v", storage.ErrCorrupt, err)
		}
		state.SetActive(session)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx, `SELECT user_id, display_name, total_ms FROM history ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var record storage.HistoryRecord
		if err := rows.Scan(&record.UserID, &record.DisplayName, &record.TotalMs); err != nil {
			return nil, fmt.Errorf("%w: scan history record: %v", storage.ErrCorrupt, err)
		}
		state.PutRecord(record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return state, nil
}

// Save replaces every row inside one write transaction.
func (s *Store) Save(ctx context.Context, state *storage.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_sessions`); err != nil {
		return fmt.Errorf("clear active sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	for _, session := range state.ActiveSessions() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO active_sessions(user_id, started_at_ms) VALUES(?, ?)`,
			session.UserID, session.StartedAt); err != nil {
			return fmt.Errorf("insert session %s: %w", session.UserID, err)
		}
	}

	for i, record := range state.History() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history(position, user_id, display_name, total_ms) VALUES(?, ?, ?, ?)`,
			i, record.UserID, record.DisplayName, record.TotalMs); err != nil {
			return fmt.Errorf("insert history record %s: %w", record.UserID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO state_meta(id, saved_at) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at`,
		time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write state marker: %w", err)
	}

	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
