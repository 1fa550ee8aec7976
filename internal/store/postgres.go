package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypredict/ledger-engine/internal/model"
)

// Schema is the table layout shared by the SQL-backed stores.
const Schema = `
CREATE TABLE IF NOT EXISTS wallet_records (
	identity   TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (identity, field)
)`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the records table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, scope model.Scope, field Field) ([]byte, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM wallet_records WHERE identity = $1 AND field = $2`,
		identity(scope), string(field)).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", scope, field, err)
	}
	return []byte(value), nil
}

func (s *PostgresStore) Put(ctx context.Context, scope model.Scope, records map[Field][]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for field, value := range records {
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallet_records (identity, field, value, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (identity, field)
			 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			identity(scope), string(field), string(value),
		); err != nil {
			return fmt.Errorf("put %s/%s: %w", scope, field, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Delete(ctx context.Context, scope model.Scope, fields ...Field) error {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM wallet_records WHERE identity = $1 AND field = ANY($2)`,
		identity(scope), names)
	if err != nil {
		return fmt.Errorf("delete %s: %w", scope, err)
	}
	return nil
}
