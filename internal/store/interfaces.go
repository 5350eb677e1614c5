package store

import (
	"context"
	"errors"
)

// Version is the opaque token a backing store assigns to each write of an
// entry. Versions are never reused for a key, even across delete and re-create.
type Version int64

// AnyVersion makes Delete unconditional
const AnyVersion Version = -1

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired
var ErrCacheMiss = errors.New("cache miss")

// Versioned is a decoded record paired with the version it was read at
type Versioned[T any] struct {
	Object  T
	Version Version
}

// Store is the versioned key-value table service the metadata engine persists to.
// Errors are *errors.MetadataError with codes NotFound, AlreadyExists and
// ConcurrentModification for the recoverable conditions.
type Store interface {
	// Table operations; CreateTable and DeleteTable are idempotent
	CreateTable(ctx context.Context, table string) error
	DeleteTable(ctx context.Context, table string) error

	// Entry operations
	CreateIfAbsent(ctx context.Context, table, key string, value []byte) (Version, error)
	Get(ctx context.Context, table, key string) ([]byte, Version, error)
	Update(ctx context.Context, table, key string, value []byte, expected Version) (Version, error)
	Delete(ctx context.Context, table, key string, expected Version) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// Cache interface for in-process caching of decoded records
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
}
