package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads a named credential from the credentials table.
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

func NewPostgresStore(ctx context.Context, databaseURL, name string) (*PostgresStore, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "openai"
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, name: name}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS credentials (
		name TEXT PRIMARY KEY,
		secret TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init schema failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context) (string, error) {
	var secret string
	err := s.pool.QueryRow(ctx, `SELECT secret FROM credentials WHERE name=$1`, s.name).Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotConfigured
	}
	if err != nil {
		return "", fmt.Errorf("query credential: %w", err)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", ErrNotConfigured
	}
	return secret, nil
}

// Save upserts the credential, used by operators to rotate keys.
func (s *PostgresStore) Save(ctx context.Context, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ErrNotConfigured
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (name, secret, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET secret = EXCLUDED.secret, updated_at = now()`,
		s.name,
		secret,
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
