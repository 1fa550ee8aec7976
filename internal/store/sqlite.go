package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/polypredict/ledger-engine/internal/model"
)

// SQLiteStore implements Store on a local SQLite file. It plays the role of
// the per-profile durable area when no database server is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path with WAL mode and
// initializes the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite store opened", "path", path)
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, scope model.Scope, field Field) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM wallet_records WHERE identity = ? AND field = ?`,
		identity(scope), string(field)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", scope, field, err)
	}
	return []byte(value), nil
}

func (s *SQLiteStore) Put(ctx context.Context, scope model.Scope, records map[Field][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for field, value := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallet_records (identity, field, value, updated_at)
			 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT (identity, field)
			 DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			identity(scope), string(field), string(value),
		); err != nil {
			return fmt.Errorf("put %s/%s: %w", scope, field, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, scope model.Scope, fields ...Field) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)+1)
	args = append(args, identity(scope))
	for _, f := range fields {
		args = append(args, string(f))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fields)), ",")

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM wallet_records WHERE identity = ? AND field IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", scope, err)
	}
	return nil
}
