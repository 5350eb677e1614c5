package metadata

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/metastore/internal/codec"
	"github.com/devrev/pairdb/metastore/internal/metrics"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// Record keys inside an entity's metadata table
const (
	creationTimeKey       = "creationTime"
	configurationKey      = "configuration"
	stateKey              = "state"
	currentEpochRecordKey = "currentEpochRecord"
	retentionSetKey       = "retention"
	waitingProcessorKey   = "waitingRequestProcessor"
	epochTransitionKey    = "epochTransition"
	epochRecordKeyFormat  = "epochRecord-%d"
	historyChunkKeyFormat = "historyTimeSeriesChunk-%d"
)

const scopeTablePrefix = "scope-"

// Entity is the record set of one scoped entity. Handles are cheap; all
// coordination between handles and processes goes through the store's CAS.
type Entity struct {
	scope     string
	name      string
	helper    *store.Helper
	chunkSize int32
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu sync.Mutex
	id uuid.UUID
}

// Scope returns the entity scope
func (e *Entity) Scope() string { return e.scope }

// Name returns the entity name
func (e *Entity) Name() string { return e.name }

// ScopedName returns "scope/name"
func (e *Entity) ScopedName() string {
	return model.ScopedName(e.scope, e.name)
}

// ID resolves the entity id from the scope index
func (e *Entity) ID(ctx context.Context) (model.EntityID, error) {
	id, err := e.resolveID(ctx)
	if err != nil {
		return model.EntityID{}, err
	}
	return model.EntityID{Scope: e.scope, Name: e.name, ID: id}, nil
}

// Refresh forgets the resolved id so the next access re-reads the scope index
func (e *Entity) Refresh(ctx context.Context) {
	e.mu.Lock()
	e.id = uuid.Nil
	e.mu.Unlock()
	e.helper.InvalidateCache(ctx, e.scopeTable(), e.name)
}

func (e *Entity) resolveID(ctx context.Context) (uuid.UUID, error) {
	e.mu.Lock()
	id := e.id
	e.mu.Unlock()
	if id != uuid.Nil {
		return id, nil
	}

	v, err := store.GetCachedData(ctx, e.helper, e.scopeTable(), e.name, codec.DecodeUUID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve id of %s: %w", e.ScopedName(), err)
	}

	e.mu.Lock()
	e.id = v.Object
	e.mu.Unlock()
	return v.Object, nil
}

func (e *Entity) scopeTable() string {
	return scopeTablePrefix + e.scope
}

func metadataTableName(scope, name string, id uuid.UUID) string {
	return fmt.Sprintf("%s/%s/metadata-%s", scope, name, id)
}

// table returns the metadata table of the entity
func (e *Entity) table(ctx context.Context) (string, error) {
	id, err := e.resolveID(ctx)
	if err != nil {
		return "", err
	}
	return metadataTableName(e.scope, e.name, id), nil
}

func epochRecordKey(epoch int32) string {
	return fmt.Sprintf(epochRecordKeyFormat, epoch)
}

func historyChunkKey(chunk int32) string {
	return fmt.Sprintf(historyChunkKeyFormat, chunk)
}
