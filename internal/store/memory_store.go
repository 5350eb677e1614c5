package store

import (
	"context"
	"sync"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
)

// MemoryStore implements Store in process memory. It backs the "memory"
// backend and unit tests.
type MemoryStore struct {
	mu      sync.RWMutex
	tables  map[string]map[string]memoryEntry
	version Version
	closed  bool
}

type memoryEntry struct {
	value   []byte
	version Version
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[string]memoryEntry)}
}

// CreateTable creates the table if it does not exist
func (s *MemoryStore) CreateTable(ctx context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[table]; !ok {
		s.tables[table] = make(map[string]memoryEntry)
	}
	return nil
}

// DeleteTable removes the table and all its entries
func (s *MemoryStore) DeleteTable(ctx context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tables, table)
	return nil
}

// CreateIfAbsent inserts the entry unless the key exists
func (s *MemoryStore) CreateIfAbsent(ctx context.Context, table, key string, value []byte) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.tables[table]
	if !ok {
		return 0, metaerrors.TableNotFound(table)
	}
	if _, exists := entries[key]; exists {
		return 0, metaerrors.AlreadyExists(table, key)
	}
	v := s.nextVersion()
	entries[key] = memoryEntry{value: clone(value), version: v}
	return v, nil
}

// Get returns the entry value and version
func (s *MemoryStore) Get(ctx context.Context, table, key string) ([]byte, Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tables[table][key]
	if !ok {
		return nil, 0, metaerrors.NotFound(table, key)
	}
	return clone(entry.value), entry.version, nil
}

// Update replaces the entry if its version equals expected
func (s *MemoryStore) Update(ctx context.Context, table, key string, value []byte, expected Version) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.tables[table]
	entry, ok := entries[key]
	if !ok {
		return 0, metaerrors.NotFound(table, key)
	}
	if entry.version != expected {
		return 0, metaerrors.ConcurrentModification(table, key, int64(expected), int64(entry.version))
	}
	v := s.nextVersion()
	entries[key] = memoryEntry{value: clone(value), version: v}
	return v, nil
}

// Delete removes the entry if its version equals expected, or unconditionally with AnyVersion
func (s *MemoryStore) Delete(ctx context.Context, table, key string, expected Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.tables[table]
	entry, ok := entries[key]
	if !ok {
		return metaerrors.NotFound(table, key)
	}
	if expected != AnyVersion && entry.version != expected {
		return metaerrors.ConcurrentModification(table, key, int64(expected), int64(entry.version))
	}
	delete(entries, key)
	return nil
}

// Ping reports whether the store is open
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return metaerrors.Unavailable("memory store closed", nil)
	}
	return nil
}

// Close marks the store closed
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *MemoryStore) nextVersion() Version {
	s.version++
	return s.version
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
