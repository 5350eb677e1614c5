package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/metrics"
)

// Helper layers caching, decoding and instrumentation over a Store.
// Every successful write invalidates the cached entry for its key before returning.
type Helper struct {
	store   Store
	cache   Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHelper creates a store helper
func NewHelper(store Store, cache Cache, m *metrics.Metrics, logger *zap.Logger) *Helper {
	return &Helper{
		store:   store,
		cache:   cache,
		metrics: m,
		logger:  logger,
	}
}

// Store returns the underlying store
func (h *Helper) Store() Store {
	return h.store
}

// CreateTable creates a table, succeeding if it already exists
func (h *Helper) CreateTable(ctx context.Context, table string) error {
	start := time.Now()
	err := h.store.CreateTable(ctx, table)
	h.observe("create_table", start, err)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// DeleteTable drops a table and all its entries
func (h *Helper) DeleteTable(ctx context.Context, table string) error {
	start := time.Now()
	err := h.store.DeleteTable(ctx, table)
	h.observe("delete_table", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete table %s: %w", table, err)
	}
	return nil
}

// AddNewEntry creates an entry, failing with AlreadyExists if the key is present
func (h *Helper) AddNewEntry(ctx context.Context, table, key string, value []byte) (Version, error) {
	start := time.Now()
	v, err := h.store.CreateIfAbsent(ctx, table, key, value)
	h.observe("create", start, err)
	if err != nil {
		return 0, err
	}
	h.InvalidateCache(ctx, table, key)
	return v, nil
}

// AddNewEntryIfAbsent creates an entry and treats an existing key as success.
// The returned bool reports whether this call created it.
func (h *Helper) AddNewEntryIfAbsent(ctx context.Context, table, key string, value []byte) (bool, error) {
	_, err := h.AddNewEntry(ctx, table, key, value)
	if err != nil {
		if metaerrors.IsAlreadyExists(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdateEntry performs a conditional write with the expected version
func (h *Helper) UpdateEntry(ctx context.Context, table, key string, value []byte, expected Version) (Version, error) {
	start := time.Now()
	v, err := h.store.Update(ctx, table, key, value, expected)
	h.observe("update", start, err)
	// a conflict means the cached copy is stale as well
	h.InvalidateCache(ctx, table, key)
	if err != nil {
		if metaerrors.IsConcurrentModification(err) {
			h.metrics.RecordConflict(recordLabel(table, key))
		}
		return 0, err
	}
	return v, nil
}

// RemoveEntry deletes an entry; a missing key is not an error
func (h *Helper) RemoveEntry(ctx context.Context, table, key string, expected Version) error {
	start := time.Now()
	err := h.store.Delete(ctx, table, key, expected)
	h.observe("delete", start, err)
	h.InvalidateCache(ctx, table, key)
	if err != nil && !metaerrors.IsNotFound(err) {
		if metaerrors.IsConcurrentModification(err) {
			h.metrics.RecordConflict(recordLabel(table, key))
		}
		return err
	}
	return nil
}

// InvalidateCache drops the cached entry for the key
func (h *Helper) InvalidateCache(ctx context.Context, table, key string) {
	if err := h.cache.Delete(ctx, cacheKey(table, key)); err != nil {
		h.logger.Warn("Failed to invalidate cache entry",
			zap.String("table", table),
			zap.String("key", key),
			zap.Error(err))
	}
}

func (h *Helper) read(ctx context.Context, table, key string) ([]byte, Version, error) {
	start := time.Now()
	data, v, err := h.store.Get(ctx, table, key)
	h.observe("get", start, err)
	return data, v, err
}

func (h *Helper) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = strings.ToLower(metaerrors.GetCode(err).String())
	}
	h.metrics.RecordStoreOp(op, result, time.Since(start).Seconds())
}

// GetEntry reads and decodes an entry directly from the store, bypassing the cache.
// The fresh result replaces any cached copy.
func GetEntry[T any](ctx context.Context, h *Helper, table, key string, decode func([]byte) (T, error)) (Versioned[T], error) {
	data, v, err := h.read(ctx, table, key)
	if err != nil {
		return Versioned[T]{}, err
	}
	obj, err := decode(data)
	if err != nil {
		return Versioned[T]{}, metaerrors.DataCorruption(table, key, err)
	}
	result := Versioned[T]{Object: obj, Version: v}
	if err := h.cache.Set(ctx, cacheKey(table, key), result); err != nil {
		h.logger.Warn("Failed to populate cache", zap.String("table", table), zap.String("key", key), zap.Error(err))
	}
	return result, nil
}

// GetCachedData returns the cached entry if present, loading it from the store otherwise
func GetCachedData[T any](ctx context.Context, h *Helper, table, key string, decode func([]byte) (T, error)) (Versioned[T], error) {
	if cached, err := h.cache.Get(ctx, cacheKey(table, key)); err == nil {
		if v, ok := cached.(Versioned[T]); ok {
			h.metrics.RecordCacheHit(recordLabel(table, key))
			return v, nil
		}
	}
	h.metrics.RecordCacheMiss(recordLabel(table, key))
	h.logger.Debug("Cache miss", zap.String("table", table), zap.String("key", key))
	return GetEntry(ctx, h, table, key, decode)
}

// GetEntryOrDefault behaves like GetEntry but returns def when the key is absent
func GetEntryOrDefault[T any](ctx context.Context, h *Helper, table, key string, decode func([]byte) (T, error), def T) (Versioned[T], error) {
	v, err := GetEntry(ctx, h, table, key, decode)
	return ExpectingDataNotFound(v, err, Versioned[T]{Object: def, Version: -1})
}

// ExpectingDataNotFound maps a NotFound error to def
func ExpectingDataNotFound[T any](value T, err error, def T) (T, error) {
	if err != nil {
		if metaerrors.IsNotFound(err) {
			return def, nil
		}
		return value, err
	}
	return value, nil
}

func cacheKey(table, key string) string {
	return table + "\x00" + key
}

// recordLabel names a record for metrics without unbounded label values
func recordLabel(table, key string) string {
	if !strings.Contains(table, "metadata-") {
		return "index"
	}
	label := strings.TrimRight(key, "0123456789")
	return strings.TrimSuffix(label, "-")
}
