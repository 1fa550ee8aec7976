// Package store defines the durable key-value port of the ledger engine.
// Records are addressed by (identity scope, field). Implementations include
// PostgreSQL, SQLite (local profile), Redis, a Redis read-through cache, and
// in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/polypredict/ledger-engine/internal/model"
)

// Field names one record inside a scope.
type Field string

const (
	FieldBalance   Field = "balance"
	FieldPositions Field = "positions"
)

// Fields lists every field a wallet persists.
var Fields = []Field{FieldBalance, FieldPositions}

// ErrNotFound is returned by Get when the record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store is the persistence interface. Each scope is a disjoint namespace.
type Store interface {
	// Get returns the raw value of one field, or ErrNotFound.
	Get(ctx context.Context, scope model.Scope, field Field) ([]byte, error)

	// Put writes all given fields atomically.
	Put(ctx context.Context, scope model.Scope, records map[Field][]byte) error

	// Delete removes the given fields. Missing fields are not an error.
	Delete(ctx context.Context, scope model.Scope, fields ...Field) error
}

// identity is the column value for a scope; the guest scope is stored as "".
func identity(scope model.Scope) string {
	return scope.UserID
}
