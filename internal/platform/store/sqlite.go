package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"github.com/dontdude/imgcap/internal/domain"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS results (
    id         TEXT PRIMARY KEY,
    payload    BLOB NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite stores results in a single table.
type SQLite struct {
	db *sql.DB
}

var _ domain.ResultStore = (*SQLite)(nil)

// NewSQLite opens the database at dbPath, initializing the schema if needed.
func NewSQLite(dbPath string) (*SQLite, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// Put inserts the result, overwriting a redelivered job's earlier write.
func (s *SQLite) Put(ctx context.Context, id string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (id, payload) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		id, data,
	)
	return err
}

func (s *SQLite) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM results WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
