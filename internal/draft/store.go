// Package draft persists the in-progress download form so an interrupted edit can
// be picked up again after a restart.
package draft

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store keeps named form drafts in SQLite. One draft name maps to one payload;
// saving overwrites.
type Store struct {
	db   *sql.DB
	name string
}

// NewSQLiteStore opens (or creates) the draft database at path. name identifies
// the draft slot this panel uses.
func NewSQLiteStore(path, name string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("draft name required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS form_drafts (
  name TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, name: name}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save overwrites the draft payload. The payload is opaque to the store; callers
// pass serialized form state.
func (s *Store) Save(ctx context.Context, payload string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO form_drafts (name, payload, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(name) DO UPDATE SET
  payload = excluded.payload,
  updated_at = CURRENT_TIMESTAMP;
`, s.name, payload)
	return err
}

// Restore returns the saved payload. A missing draft is not an error; the second
// return reports whether a draft exists.
func (s *Store) Restore(ctx context.Context) (string, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM form_drafts WHERE name = ?;`, s.name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

// Clear discards the draft. Clearing an absent draft is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM form_drafts WHERE name = ?;`, s.name)
	return err
}
