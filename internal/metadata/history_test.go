package metadata

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/metastore/internal/codec"
	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

func TestReconstruction_RoundTrip(t *testing.T) {
	for _, chunkSize := range []int{1, 2, 3, 5} {
		t.Run("chunk", func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t, chunkSize)
			ent := env.createActive(t, 2, 1000)

			epoch0, err := ent.GetEpoch(ctx, 0)
			require.NoError(t, err)
			expected := []model.EpochRecord{epoch0}
			for i := 1; i <= 8; i++ {
				expected = append(expected, splitFirst(t, ent, int64(1000+i*1000)))
			}

			for _, want := range expected {
				got, err := ent.GetEpoch(ctx, want.Epoch)
				require.NoError(t, err)
				assert.Equal(t, want, got, "epoch %d chunkSize %d", want.Epoch, chunkSize)
				assert.NoError(t, got.ValidateKeySpace())
			}

			all, err := ent.GetEpochsInRange(ctx, 0, 8)
			require.NoError(t, err)
			assert.Equal(t, expected, all)

			middle, err := ent.GetEpochsInRange(ctx, 3, 6)
			require.NoError(t, err)
			assert.Equal(t, expected[3:7], middle)
		})
	}
}

func TestGetEpochsInRange_Invalid(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2)
	ent := env.createActive(t, 1, 1000)
	splitFirst(t, ent, 2000)

	_, err := ent.GetEpochsInRange(ctx, 1, 0)
	assert.True(t, metaerrors.IsCode(err, metaerrors.ErrCodeInvalidArgument))

	_, err = ent.GetEpochsInRange(ctx, 0, 5)
	assert.True(t, metaerrors.IsCode(err, metaerrors.ErrCodeInvalidArgument))

	_, err = ent.GetEpoch(ctx, 7)
	assert.True(t, metaerrors.IsNotFound(err))
}

func TestAppendHistoryRecord_DuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 3)
	ent := env.createActive(t, 1, 1000)
	splitFirst(t, ent, 2000)

	table, err := ent.table(ctx)
	require.NoError(t, err)
	before, err := store.GetEntry(ctx, ent.helper, table, historyChunkKey(0), codec.DecodeHistoryTimeSeries)
	require.NoError(t, err)

	// re-append epochs 0 and 1 with different content
	for _, epoch := range []int32{0, 1} {
		err = ent.appendHistoryRecord(ctx, table, model.HistoryTimeSeriesRecord{
			Epoch:          epoch,
			ReferenceEpoch: epoch,
			ScaleTime:      99999,
		})
		require.NoError(t, err)
	}

	after, err := store.GetEntry(ctx, ent.helper, table, historyChunkKey(0), codec.DecodeHistoryTimeSeries)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.HistoryAppends.WithLabelValues(appendDuplicate)))
}

func TestAppendHistoryRecord_RejectsGap(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 5)
	ent := env.createActive(t, 1, 1000)

	table, err := ent.table(ctx)
	require.NoError(t, err)
	err = ent.appendHistoryRecord(ctx, table, model.HistoryTimeSeriesRecord{Epoch: 3, ReferenceEpoch: 3, ScaleTime: 5000})
	assert.True(t, metaerrors.IsCode(err, metaerrors.ErrCodeInvalidArgument))
}

func TestAppendHistoryRecord_ConcurrentAppendsOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 10)
	ent := env.createActive(t, 1, 1000)
	table, err := ent.table(ctx)
	require.NoError(t, err)

	record := model.HistoryTimeSeriesRecord{Epoch: 1, ReferenceEpoch: 1, SegmentsSealed: []int64{0}, ScaleTime: 2000}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ent.appendHistoryRecord(ctx, table, record))
		}()
	}
	wg.Wait()

	chunk, err := ent.getHistoryChunk(ctx, table, 0, true)
	require.NoError(t, err)
	require.Len(t, chunk.Object.Records, 2)
	assert.Equal(t, int32(1), chunk.Object.Records[1].Epoch)
}

// End to end with chunkSize 2: epoch 0 holds segment 0; epoch 1 splits it into
// 1 and 2; epoch 2 replaces 1 with 3; epoch 3 merges 2 and 3 into 4.
func TestEndToEnd_ChunkedHistory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2)
	ent := env.createActive(t, 1, 1000)

	seg := func(number, epoch int32) int64 { return model.ComputeSegmentID(number, epoch) }

	e1, err := ent.Scale(ctx, []int64{seg(0, 0)}, []model.KeyRange{{Start: 0, End: 0.5}, {Start: 0.5, End: 1}}, 2000)
	require.NoError(t, err)
	e2, err := ent.Scale(ctx, []int64{seg(1, 1)}, []model.KeyRange{{Start: 0, End: 0.5}}, 3000)
	require.NoError(t, err)
	e3, err := ent.Scale(ctx, []int64{seg(2, 1), seg(3, 2)}, []model.KeyRange{{Start: 0, End: 1}}, 4000)
	require.NoError(t, err)

	assert.Equal(t, []int64{seg(1, 1), seg(2, 1)}, e1.SegmentIDs())
	assert.Equal(t, []int64{seg(3, 2), seg(2, 1)}, e2.SegmentIDs())
	assert.Equal(t, []int64{seg(4, 3)}, e3.SegmentIDs())

	table, err := ent.table(ctx)
	require.NoError(t, err)
	chunk0, err := ent.getHistoryChunk(ctx, table, 0, true)
	require.NoError(t, err)
	chunk1, err := ent.getHistoryChunk(ctx, table, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1}, epochsOf(chunk0.Object))
	assert.Equal(t, []int32{2, 3}, epochsOf(chunk1.Object))

	// epoch 2 starts chunk 1, so its snapshot is stored; epochs 1 and 3 are deltas
	_, _, err = env.store.Get(ctx, table, epochRecordKey(2))
	assert.NoError(t, err)
	_, _, err = env.store.Get(ctx, table, epochRecordKey(3))
	assert.True(t, metaerrors.IsNotFound(err))

	all, err := ent.GetEpochsInRange(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, e1, all[1])
	assert.Equal(t, e2, all[2])
	assert.Equal(t, e3, all[3])

	// chunk 0 is full: after one load it is served from cache
	hits := func() float64 {
		return testutil.ToFloat64(env.metrics.CacheHits.WithLabelValues("historyTimeSeriesChunk"))
	}
	_, err = ent.GetEpoch(ctx, 1)
	require.NoError(t, err)
	before := hits()
	_, err = ent.GetEpoch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, before+1, hits())

	active, err := ent.GetActiveSegments(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, model.KeyRange{Start: 0, End: 1}, model.KeyRange{Start: active[0].KeyStart, End: active[0].KeyEnd})
}

func TestNonFullChunkNotServedFromCache(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	first := newTestEnvOn(t, s, 5)
	second := newTestEnvOn(t, s, 5)

	ent := first.createActive(t, 1, 1000)
	_, err := ent.GetEpoch(ctx, 0)
	require.NoError(t, err)

	// another process scales; the first process must see epoch 1 in the non-full chunk
	splitFirst(t, second.entity(t), 2000)

	got, err := ent.GetEpoch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.Epoch)
}

func epochsOf(h model.HistoryTimeSeries) []int32 {
	epochs := make([]int32, len(h.Records))
	for i, r := range h.Records {
		epochs[i] = r.Epoch
	}
	return epochs
}
