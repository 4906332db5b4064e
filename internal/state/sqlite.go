package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"marketflow/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fetch_state (
	code       TEXT PRIMARY KEY,
	last_date  TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// The WHERE clause on the conflict branch keeps last_date monotonic.
const sqliteAdvance = `
INSERT INTO fetch_state (code, last_date, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (code) DO UPDATE SET
	last_date = excluded.last_date,
	updated_at = excluded.updated_at
WHERE excluded.last_date > fetch_state.last_date`

// SQLite stores state in a single-table database file.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("storage.state.sqlite_path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, code string) (FetchState, error) {
	var lastDate, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_date, updated_at FROM fetch_state WHERE code = ?`, code,
	).Scan(&lastDate, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return FetchState{}, ErrNotFound
	}
	if err != nil {
		return FetchState{}, fmt.Errorf("failed to read state for %s: %w", code, err)
	}

	d, err := model.ParseDate(lastDate)
	if err != nil {
		return FetchState{}, fmt.Errorf("corrupt last_date for %s: %w", code, err)
	}
	u, _ := time.Parse(time.RFC3339, updatedAt)
	return FetchState{Code: code, LastDate: d, UpdatedAt: u}, nil
}

func (s *SQLite) Advance(ctx context.Context, code string, date time.Time) error {
	_, err := s.db.ExecContext(ctx, sqliteAdvance,
		code, model.Day(date).Format(model.DateLayout), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to advance state for %s: %w", code, err)
	}
	return nil
}

func (s *SQLite) AdvanceMany(ctx context.Context, updates map[string]time.Time) map[string]error {
	return advanceEach(ctx, s, updates)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
