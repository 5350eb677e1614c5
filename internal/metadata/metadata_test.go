package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/metastore/internal/metrics"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

const (
	testScope = "scope"
	testName  = "name"
)

type testEnv struct {
	store   *store.MemoryStore
	metrics *metrics.Metrics
	engine  *Engine
}

func newTestEnv(t *testing.T, chunkSize int) *testEnv {
	t.Helper()
	return newTestEnvOn(t, store.NewMemoryStore(), chunkSize)
}

// newTestEnvOn builds an engine with its own cache over a shared store,
// standing in for a second controller process
func newTestEnvOn(t *testing.T, s *store.MemoryStore, chunkSize int) *testEnv {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	helper := store.NewHelper(s, store.NewInMemoryCache(1000, time.Minute, zap.NewNop()), m, zap.NewNop())
	engine, err := NewEngine(helper, chunkSize, m, zap.NewNop())
	require.NoError(t, err)
	return &testEnv{store: s, metrics: m, engine: engine}
}

func (env *testEnv) entity(t *testing.T) *Entity {
	t.Helper()
	ent, err := env.engine.Entity(testScope, testName)
	require.NoError(t, err)
	return ent
}

// createActive creates the entity and completes creation
func (env *testEnv) createActive(t *testing.T, partitions int32, creationTime int64) *Entity {
	t.Helper()
	ctx := context.Background()
	ent := env.entity(t)

	resp, err := ent.Create(ctx, model.NewFixedConfiguration(partitions), creationTime, 0)
	require.NoError(t, err)
	require.Equal(t, model.CreateStatusNew, resp.Status)
	require.NoError(t, ent.UpdateState(ctx, model.StateActive))
	return ent
}

// splitFirst seals the lowest segment of the active epoch and splits its range in two
func splitFirst(t *testing.T, ent *Entity, scaleTime int64) model.EpochRecord {
	t.Helper()
	ctx := context.Background()
	active, err := ent.GetActiveEpoch(ctx, true)
	require.NoError(t, err)

	s := active.Segments[0]
	mid := s.KeyStart + (s.KeyEnd-s.KeyStart)/2
	next, err := ent.Scale(ctx, []int64{s.SegmentID()},
		[]model.KeyRange{{Start: s.KeyStart, End: mid}, {Start: mid, End: s.KeyEnd}}, scaleTime)
	require.NoError(t, err)
	return next
}
