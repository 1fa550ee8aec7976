package store

import (
	"context"
	"sync"

	"github.com/polypredict/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	records map[model.Scope]map[Field][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[model.Scope]map[Field][]byte),
	}
}

func (s *MemoryStore) Get(_ context.Context, scope model.Scope, field Field) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.records[scope][field]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(v), nil
}

func (s *MemoryStore) Put(_ context.Context, scope model.Scope, records map[Field][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.records[scope]
	if !ok {
		ns = make(map[Field][]byte)
		s.records[scope] = ns
	}
	// Store copies to avoid external mutation.
	for f, v := range records {
		ns[f] = cloneBytes(v)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, scope model.Scope, fields ...Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.records[scope]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(ns, f)
	}
	if len(ns) == 0 {
		delete(s.records, scope)
	}
	return nil
}

// Scopes returns the scopes that currently hold records.
func (s *MemoryStore) Scopes() []model.Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scopes := make([]model.Scope, 0, len(s.records))
	for sc := range s.records {
		scopes = append(scopes, sc)
	}
	return scopes
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
