package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dontdude/imgcap/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS results (
    id         TEXT PRIMARY KEY,
    payload    BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores results in a shared database so several server instances can read them.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.ResultStore = (*Postgres)(nil)

// NewPostgres connects to url and creates the results table if needed.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create results table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Put(ctx context.Context, id string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO results (id, payload) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`,
		id, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save result %s: %w", id, err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM results WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", id, err)
	}
	return data, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
