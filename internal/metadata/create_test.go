package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/metastore/internal/codec"
	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

func TestCreate_Idempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)
	ent := env.entity(t)
	cfg := model.NewFixedConfiguration(3)

	first, err := ent.Create(ctx, cfg, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, model.CreateStatusNew, first.Status)

	epochBefore, err := ent.GetEpoch(ctx, 0)
	require.NoError(t, err)

	second, err := ent.Create(ctx, cfg, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, model.CreateStatusNew, second.Status)
	assert.Equal(t, first, second)

	epochAfter, err := ent.GetEpoch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, epochBefore, epochAfter)

	state, err := ent.GetState(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, model.StateCreating, state)
}

func TestCreate_ExistsCreatingWithDifferentTime(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)
	cfg := model.NewFixedConfiguration(1)

	_, err := env.entity(t).Create(ctx, cfg, 1000, 0)
	require.NoError(t, err)

	resp, err := env.entity(t).Create(ctx, cfg, 2000, 0)
	require.NoError(t, err)
	assert.Equal(t, model.CreateStatusExistsCreating, resp.Status)
	assert.Equal(t, int64(1000), resp.Timestamp)
}

func TestCreate_ExistsActive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)
	env.createActive(t, 2, 1000)

	resp, err := env.entity(t).Create(ctx, model.NewFixedConfiguration(5), 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, model.CreateStatusExistsActive, resp.Status)
	assert.Equal(t, int32(2), resp.Configuration.PartitionCount())
}

func TestCreate_ResumesWithStoredCreationTime(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)
	ent := env.entity(t)

	// a previous attempt stopped after writing only the creation time
	table, err := ent.createMetadataTable(ctx)
	require.NoError(t, err)
	_, err = env.store.CreateIfAbsent(ctx, table, creationTimeKey, codec.EncodeTimestamp(500))
	require.NoError(t, err)

	resp, err := ent.Create(ctx, model.NewFixedConfiguration(1), 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, model.CreateStatusNew, resp.Status)
	assert.Equal(t, int64(500), resp.Timestamp)

	created, err := ent.GetCreationTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), created)
}

func TestCreate_BaseRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)
	ent := env.entity(t)

	_, err := ent.Create(ctx, model.NewFixedConfiguration(4), 1000, 10)
	require.NoError(t, err)

	epoch0, err := ent.GetActiveEpoch(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int32(0), epoch0.Epoch)
	require.Len(t, epoch0.Segments, 4)
	assert.NoError(t, epoch0.ValidateKeySpace())
	for i, s := range epoch0.Segments {
		assert.Equal(t, int32(10+i), s.SegmentNumber)
		assert.Equal(t, int64(1000), s.CreationTime)
	}

	retention, err := ent.GetRetentionSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, retention.StreamCuts)

	cfg, err := ent.GetConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.NewFixedConfiguration(4), cfg)

	table, err := ent.table(ctx)
	require.NoError(t, err)
	_, _, err = env.store.Get(ctx, table, epochTransitionKey)
	require.NoError(t, err)
}

func TestCreate_InvalidInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)

	_, err := env.entity(t).Create(ctx, model.NewFixedConfiguration(0), 1000, 0)
	assert.True(t, metaerrors.IsCode(err, metaerrors.ErrCodeInvalidArgument))

	_, err = env.engine.Entity("a/b", "c")
	assert.True(t, metaerrors.IsCode(err, metaerrors.ErrCodeInvalidArgument))
}

func TestGetActiveSegments_IllegalWhileCreating(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)
	ent := env.entity(t)

	_, err := ent.Create(ctx, model.NewFixedConfiguration(2), 1000, 0)
	require.NoError(t, err)

	_, err = ent.GetActiveSegments(ctx)
	assert.True(t, metaerrors.IsCode(err, metaerrors.ErrCodeIllegalState))

	require.NoError(t, ent.UpdateState(ctx, model.StateActive))
	segments, err := ent.GetActiveSegments(ctx)
	require.NoError(t, err)
	assert.Len(t, segments, 2)
}

func TestEntityNotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)

	_, err := env.entity(t).GetActiveEpoch(ctx, false)
	assert.True(t, metaerrors.IsNotFound(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)
	ent := env.createActive(t, 1, 1000)

	before, err := ent.ID(ctx)
	require.NoError(t, err)

	err = ent.Delete(ctx)
	assert.True(t, metaerrors.IsCode(err, metaerrors.ErrCodeIllegalState))

	require.NoError(t, ent.Seal(ctx))
	require.NoError(t, ent.Delete(ctx))

	_, err = ent.GetState(ctx, true)
	assert.True(t, metaerrors.IsNotFound(err))

	recreated := env.createActive(t, 1, 5000)
	after, err := recreated.ID(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)

	created, err := recreated.GetCreationTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), created)
}

// dropTableFails rejects DeleteTable, leaving a delete stopped after the index removal
type dropTableFails struct {
	*store.MemoryStore
	fail bool
}

func (s *dropTableFails) DeleteTable(ctx context.Context, table string) error {
	if s.fail {
		return metaerrors.Unavailable("store offline", nil)
	}
	return s.MemoryStore.DeleteTable(ctx, table)
}

func TestDelete_InterruptedBeforeTableDrop(t *testing.T) {
	ctx := context.Background()
	backing := &dropTableFails{MemoryStore: store.NewMemoryStore()}
	helper := store.NewHelper(backing, store.NewInMemoryCache(100, time.Minute, zap.NewNop()), nil, zap.NewNop())
	engine, err := NewEngine(helper, 10, nil, zap.NewNop())
	require.NoError(t, err)
	env := &testEnv{engine: engine}

	ent := env.createActive(t, 1, 1000)
	before, err := ent.ID(ctx)
	require.NoError(t, err)
	require.NoError(t, ent.Seal(ctx))

	backing.fail = true
	require.Error(t, ent.Delete(ctx))
	backing.fail = false

	recreated := env.createActive(t, 2, 5000)
	after, err := recreated.ID(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)

	// finishing the delete drops only the old table
	require.NoError(t, ent.Delete(ctx))
	_, _, err = backing.Get(ctx, metadataTableName(testScope, testName, before.ID), stateKey)
	assert.True(t, metaerrors.IsNotFound(err))

	cfg, err := recreated.GetConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), cfg.PartitionCount())
}

func TestDelete_Missing(t *testing.T) {
	env := newTestEnv(t, 10)
	assert.NoError(t, env.entity(t).Delete(context.Background()))
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)
	ent := env.createActive(t, 1, 1000)

	// another handle deletes and re-creates the entity
	other := env.entity(t)
	require.NoError(t, other.Seal(ctx))
	require.NoError(t, other.Delete(ctx))
	env.createActive(t, 2, 2000)

	ent.Refresh(ctx)
	cfg, err := ent.GetConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), cfg.PartitionCount())
}
