package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polypredict/ledger-engine/internal/model"
)

// Prefix returns the flat key prefix of a scope: "<app>_<userID>_" for a
// signed-in user, "<app>_guest_" otherwise. User ids that would collide with
// the guest prefix are escaped; see escapeUserID.
func Prefix(app string, scope model.Scope) string {
	if scope.IsGuest() {
		return app + "_guest_"
	}
	return fmt.Sprintf("%s_%s_", app, escapeUserID(scope.UserID))
}

// escapeUserID keeps ordinary ids verbatim. The reserved id "guest" and any
// id starting with "~" get one extra leading "~", which keeps the mapping
// one-to-one and keeps users out of the guest namespace.
func escapeUserID(id string) string {
	if id == "guest" || strings.HasPrefix(id, "~") {
		return "~" + id
	}
	return id
}

// Key returns the flat key of one field.
func Key(app string, scope model.Scope, field Field) string {
	return Prefix(app, scope) + string(field)
}

// RedisStore implements Store on plain Redis string keys using the flat
// "<app>_<identity>_<field>" convention.
type RedisStore struct {
	rdb *redis.Client
	app string
}

// NewRedisStore creates a Redis-backed store namespaced under app.
func NewRedisStore(rdb *redis.Client, app string) *RedisStore {
	return &RedisStore{rdb: rdb, app: app}
}

func (s *RedisStore) Get(ctx context.Context, scope model.Scope, field Field) ([]byte, error) {
	data, err := s.rdb.Get(ctx, Key(s.app, scope, field)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", scope, field, err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, scope model.Scope, records map[Field][]byte) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for field, value := range records {
			pipe.Set(ctx, Key(s.app, scope, field), value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", scope, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, scope model.Scope, fields ...Field) error {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = Key(s.app, scope, f)
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", scope, err)
	}
	return nil
}

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Cache keys are prefixed
// with app so deployments sharing a Redis instance stay apart.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	app     string
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, app string, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		app:     app,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Put(ctx context.Context, scope model.Scope, records map[Field][]byte) error {
	if err := s.primary.Put(ctx, scope, records); err != nil {
		return err
	}
	fields := make([]Field, 0, len(records))
	for f := range records {
		fields = append(fields, f)
	}
	s.invalidate(ctx, scope, fields)
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, scope model.Scope, fields ...Field) error {
	if err := s.primary.Delete(ctx, scope, fields...); err != nil {
		return err
	}
	s.invalidate(ctx, scope, fields)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Get(ctx context.Context, scope model.Scope, field Field) ([]byte, error) {
	if data, err := s.rdb.Get(ctx, s.cacheKey(scope, field)).Bytes(); err == nil {
		return data, nil
	}

	// Cache miss: read from primary. Absent records are not cached.
	data, err := s.primary.Get(ctx, scope, field)
	if err != nil {
		return nil, err
	}
	s.rdb.Set(ctx, s.cacheKey(scope, field), data, s.ttl)
	return data, nil
}

// --- Cache helpers ---

func (s *CachedStore) invalidate(ctx context.Context, scope model.Scope, fields []Field) {
	if len(fields) == 0 {
		return
	}
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = s.cacheKey(scope, f)
	}
	s.rdb.Del(ctx, keys...)
}

func (s *CachedStore) cacheKey(scope model.Scope, field Field) string {
	if scope.IsGuest() {
		return fmt.Sprintf("%s:wallet:guest:%s", s.app, field)
	}
	return fmt.Sprintf("%s:wallet:user:%s:%s", s.app, scope.UserID, field)
}
