package session

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store persists the last active context of each principal.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the state database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode allows simultaneous readers and writers
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS last_context (
		principal  TEXT PRIMARY KEY,
		context_id TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{conn: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// LastContext returns the context principal used last, or "".
func (s *Store) LastContext(ctx context.Context, principal string) (string, error) {
	var id string
	err := s.conn.QueryRowContext(ctx,
		"SELECT context_id FROM last_context WHERE principal = ?", principal).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// SetLastContext records contextID for principal. An empty id forgets it.
func (s *Store) SetLastContext(ctx context.Context, principal, contextID string) error {
	if contextID == "" {
		_, err := s.conn.ExecContext(ctx, "DELETE FROM last_context WHERE principal = ?", principal)
		return err
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO last_context (principal, context_id, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(principal) DO UPDATE SET
			context_id = excluded.context_id,
			updated_at = excluded.updated_at`,
		principal, contextID)
	return err
}
