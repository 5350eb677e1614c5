package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
)

const (
	boltTablePrefix = "t:"
	boltVersionSize = 8
)

// boltMetaBucket holds the store-wide version sequence
var boltMetaBucket = []byte("_meta")

// BoltStore implements Store on an embedded bbolt file. Each table is a
// bucket; each value is an 8-byte big-endian version followed by the payload.
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewBoltStore opens (or creates) the bbolt file at path
func NewBoltStore(path string, timeout time.Duration, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltMetaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize bolt database: %w", err)
	}

	logger.Info("Opened bolt store", zap.String("path", path))
	return &BoltStore{db: db, logger: logger}, nil
}

// CreateTable creates the table bucket if it does not exist
func (s *BoltStore) CreateTable(ctx context.Context, table string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName(table))
		return err
	})
}

// DeleteTable removes the table bucket
func (s *BoltStore) DeleteTable(ctx context.Context, table string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket(bucketName(table))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// CreateIfAbsent inserts the entry unless the key exists
func (s *BoltStore) CreateIfAbsent(ctx context.Context, table, key string, value []byte) (Version, error) {
	var v Version
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(table))
		if b == nil {
			return metaerrors.TableNotFound(table)
		}
		if b.Get([]byte(key)) != nil {
			return metaerrors.AlreadyExists(table, key)
		}
		next, err := nextBoltVersion(tx)
		if err != nil {
			return err
		}
		v = next
		return b.Put([]byte(key), encodeBoltValue(v, value))
	})
	return v, err
}

// Get returns the entry value and version
func (s *BoltStore) Get(ctx context.Context, table, key string) ([]byte, Version, error) {
	var (
		value []byte
		v     Version
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(table))
		if b == nil {
			return metaerrors.NotFound(table, key)
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return metaerrors.NotFound(table, key)
		}
		var err error
		// raw is only valid inside the transaction
		v, value, err = decodeBoltValue(raw)
		if err != nil {
			return metaerrors.DataCorruption(table, key, err)
		}
		value = clone(value)
		return nil
	})
	return value, v, err
}

// Update replaces the entry if its version equals expected
func (s *BoltStore) Update(ctx context.Context, table, key string, value []byte, expected Version) (Version, error) {
	var v Version
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, current, err := s.current(tx, table, key)
		if err != nil {
			return err
		}
		if current != expected {
			return metaerrors.ConcurrentModification(table, key, int64(expected), int64(current))
		}
		next, err := nextBoltVersion(tx)
		if err != nil {
			return err
		}
		v = next
		return b.Put([]byte(key), encodeBoltValue(v, value))
	})
	return v, err
}

// Delete removes the entry if its version equals expected, or unconditionally with AnyVersion
func (s *BoltStore) Delete(ctx context.Context, table, key string, expected Version) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, current, err := s.current(tx, table, key)
		if err != nil {
			return err
		}
		if expected != AnyVersion && current != expected {
			return metaerrors.ConcurrentModification(table, key, int64(expected), int64(current))
		}
		return b.Delete([]byte(key))
	})
}

// Ping checks the database is open
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(boltMetaBucket) == nil {
			return metaerrors.Unavailable("bolt meta bucket missing", nil)
		}
		return nil
	})
}

// Close closes the database file
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) current(tx *bbolt.Tx, table, key string) (*bbolt.Bucket, Version, error) {
	b := tx.Bucket(bucketName(table))
	if b == nil {
		return nil, 0, metaerrors.NotFound(table, key)
	}
	raw := b.Get([]byte(key))
	if raw == nil {
		return nil, 0, metaerrors.NotFound(table, key)
	}
	v, _, err := decodeBoltValue(raw)
	if err != nil {
		return nil, 0, metaerrors.DataCorruption(table, key, err)
	}
	return b, v, nil
}

func nextBoltVersion(tx *bbolt.Tx) (Version, error) {
	seq, err := tx.Bucket(boltMetaBucket).NextSequence()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate version: %w", err)
	}
	return Version(seq), nil
}

func bucketName(table string) []byte {
	return []byte(boltTablePrefix + table)
}

func encodeBoltValue(v Version, value []byte) []byte {
	buf := make([]byte, boltVersionSize, boltVersionSize+len(value))
	binary.BigEndian.PutUint64(buf, uint64(v))
	return append(buf, value...)
}

func decodeBoltValue(raw []byte) (Version, []byte, error) {
	if len(raw) < boltVersionSize {
		return 0, nil, fmt.Errorf("value too short: %d bytes", len(raw))
	}
	return Version(binary.BigEndian.Uint64(raw[:boltVersionSize])), raw[boltVersionSize:], nil
}
