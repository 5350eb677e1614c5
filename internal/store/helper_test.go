package store

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/metrics"
)

const testTable = "scope/name/metadata-1234"

func decodeInt(b []byte) (int, error) {
	return strconv.Atoi(string(b))
}

func newTestHelper(t *testing.T) (*Helper, *MemoryStore, *metrics.Metrics) {
	t.Helper()
	s := NewMemoryStore()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := NewHelper(s, NewInMemoryCache(100, time.Minute, zap.NewNop()), m, zap.NewNop())
	require.NoError(t, h.CreateTable(context.Background(), testTable))
	return h, s, m
}

func TestHelper_CachedReadIsServedFromCache(t *testing.T) {
	ctx := context.Background()
	h, s, m := newTestHelper(t)

	v, err := h.AddNewEntry(ctx, testTable, "counter", []byte("1"))
	require.NoError(t, err)

	first, err := GetCachedData(ctx, h, testTable, "counter", decodeInt)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Object)

	// a write behind the helper's back is not visible through the cache
	_, err = s.Update(ctx, testTable, "counter", []byte("2"), v)
	require.NoError(t, err)

	cached, err := GetCachedData(ctx, h, testTable, "counter", decodeInt)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Object)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("counter")))

	fresh, err := GetEntry(ctx, h, testTable, "counter", decodeInt)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Object)
}

func TestHelper_UpdateInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newTestHelper(t)

	_, err := h.AddNewEntry(ctx, testTable, "counter", []byte("1"))
	require.NoError(t, err)

	cur, err := GetCachedData(ctx, h, testTable, "counter", decodeInt)
	require.NoError(t, err)

	_, err = h.UpdateEntry(ctx, testTable, "counter", []byte("5"), cur.Version)
	require.NoError(t, err)

	after, err := GetCachedData(ctx, h, testTable, "counter", decodeInt)
	require.NoError(t, err)
	assert.Equal(t, 5, after.Object)
}

func TestHelper_UpdateConflictRecorded(t *testing.T) {
	ctx := context.Background()
	h, _, m := newTestHelper(t)

	v, err := h.AddNewEntry(ctx, testTable, "state", []byte("1"))
	require.NoError(t, err)
	_, err = h.UpdateEntry(ctx, testTable, "state", []byte("2"), v)
	require.NoError(t, err)

	_, err = h.UpdateEntry(ctx, testTable, "state", []byte("3"), v)
	assert.True(t, metaerrors.IsConcurrentModification(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConflictsTotal.WithLabelValues("state")))
}

func TestHelper_AddNewEntryIfAbsent(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newTestHelper(t)

	created, err := h.AddNewEntryIfAbsent(ctx, testTable, "k", []byte("1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = h.AddNewEntryIfAbsent(ctx, testTable, "k", []byte("2"))
	require.NoError(t, err)
	assert.False(t, created)

	_, err = h.AddNewEntry(ctx, testTable, "k", []byte("3"))
	assert.True(t, metaerrors.IsAlreadyExists(err))
}

func TestHelper_RemoveEntryIgnoresMissing(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newTestHelper(t)

	assert.NoError(t, h.RemoveEntry(ctx, testTable, "missing", AnyVersion))

	v, err := h.AddNewEntry(ctx, testTable, "k", []byte("1"))
	require.NoError(t, err)
	err = h.RemoveEntry(ctx, testTable, "k", v+1)
	assert.True(t, metaerrors.IsConcurrentModification(err))
	assert.NoError(t, h.RemoveEntry(ctx, testTable, "k", v))
}

func TestHelper_DecodeFailureIsCorruption(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newTestHelper(t)

	_, err := h.AddNewEntry(ctx, testTable, "k", []byte("not a number"))
	require.NoError(t, err)

	_, err = GetEntry(ctx, h, testTable, "k", decodeInt)
	assert.Equal(t, metaerrors.ErrCodeDataCorruption, metaerrors.GetCode(err))
}

func TestGetEntryOrDefault(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newTestHelper(t)

	got, err := GetEntryOrDefault(ctx, h, testTable, "missing", decodeInt, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Object)
	assert.Equal(t, Version(-1), got.Version)
}

func TestRecordLabel(t *testing.T) {
	assert.Equal(t, "epochRecord", recordLabel(testTable, "epochRecord-12"))
	assert.Equal(t, "historyTimeSeriesChunk", recordLabel(testTable, "historyTimeSeriesChunk-0"))
	assert.Equal(t, "state", recordLabel(testTable, "state"))
	assert.Equal(t, "index", recordLabel("scope-s", "name-7"))
}

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(2, time.Minute, zap.NewNop())

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))
	require.NoError(t, c.Set(ctx, "c", 3))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 2, c.Size())

	v, err := c.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	require.NoError(t, c.Delete(ctx, "c"))
	_, err = c.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestInMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(10, 20*time.Millisecond, zap.NewNop())

	require.NoError(t, c.Set(ctx, "a", 1))
	assert.Eventually(t, func() bool {
		_, err := c.Get(ctx, "a")
		return err == ErrCacheMiss
	}, time.Second, 10*time.Millisecond)
}
