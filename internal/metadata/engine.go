// Package metadata implements the per-entity record set: lifecycle state,
// the chunked epoch history, the epoch-time index and the creation protocol.
package metadata

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/metrics"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// DefaultHistoryChunkSize is the number of history records per chunk
const DefaultHistoryChunkSize = 1000

// Engine hands out Entity handles bound to a shared store helper
type Engine struct {
	helper    *store.Helper
	chunkSize int32
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewEngine creates a metadata engine
func NewEngine(helper *store.Helper, chunkSize int, m *metrics.Metrics, logger *zap.Logger) (*Engine, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("history chunk size must be positive, got %d", chunkSize)
	}
	return &Engine{
		helper:    helper,
		chunkSize: int32(chunkSize),
		metrics:   m,
		logger:    logger,
	}, nil
}

// ChunkSize returns the history chunk size
func (e *Engine) ChunkSize() int32 {
	return e.chunkSize
}

// Entity returns a handle for scope/name. The handle resolves the entity id lazily.
func (e *Engine) Entity(scope, name string) (*Entity, error) {
	if err := validateName("scope", scope); err != nil {
		return nil, err
	}
	if err := validateName("name", name); err != nil {
		return nil, err
	}
	return &Entity{
		scope:     scope,
		name:      name,
		helper:    e.helper,
		chunkSize: e.chunkSize,
		metrics:   e.metrics,
		logger:    e.logger.With(zap.String("scope", scope), zap.String("name", name)),
	}, nil
}

func validateName(kind, value string) error {
	if value == "" {
		return metaerrors.InvalidArgument(fmt.Sprintf("%s must not be empty", kind), nil)
	}
	if strings.ContainsAny(value, "/\x00") {
		return metaerrors.InvalidArgument(fmt.Sprintf("%s %q contains a reserved character", kind, value), nil)
	}
	return nil
}
