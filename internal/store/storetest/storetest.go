// Package storetest provides a conformance suite every store.Store adapter must pass.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// Factory returns a fresh, empty store for one subtest
type Factory func(t *testing.T) store.Store

// Run runs the conformance suite against stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateIfAbsent", testCreateIfAbsent},
		{"MissingTable", testMissingTable},
		{"ConditionalUpdate", testConditionalUpdate},
		{"ConditionalDelete", testConditionalDelete},
		{"VersionsNotReused", testVersionsNotReused},
		{"DeleteTable", testDeleteTable},
		{"ConcurrentUpdates", testConcurrentUpdates},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func testCreateIfAbsent(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "tbl"))
	require.NoError(t, s.CreateTable(ctx, "tbl"))

	v, err := s.CreateIfAbsent(ctx, "tbl", "k", []byte("one"))
	require.NoError(t, err)

	_, err = s.CreateIfAbsent(ctx, "tbl", "k", []byte("two"))
	assert.True(t, metaerrors.IsAlreadyExists(err))

	value, got, err := s.Get(ctx, "tbl", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), value)
	assert.Equal(t, v, got)

	_, _, err = s.Get(ctx, "tbl", "missing")
	assert.True(t, metaerrors.IsNotFound(err))
}

func testMissingTable(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CreateIfAbsent(ctx, "nope", "k", []byte("v"))
	assert.True(t, metaerrors.IsNotFound(err))

	_, _, err = s.Get(ctx, "nope", "k")
	assert.True(t, metaerrors.IsNotFound(err))

	_, err = s.Update(ctx, "nope", "k", []byte("v"), 1)
	assert.True(t, metaerrors.IsNotFound(err))
}

func testConditionalUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "tbl"))

	v1, err := s.CreateIfAbsent(ctx, "tbl", "k", []byte("one"))
	require.NoError(t, err)

	v2, err := s.Update(ctx, "tbl", "k", []byte("two"), v1)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	_, err = s.Update(ctx, "tbl", "k", []byte("stale"), v1)
	assert.True(t, metaerrors.IsConcurrentModification(err))

	value, v, err := s.Get(ctx, "tbl", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), value)
	assert.Equal(t, v2, v)

	_, err = s.Update(ctx, "tbl", "missing", []byte("x"), v1)
	assert.True(t, metaerrors.IsNotFound(err))
}

func testConditionalDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "tbl"))

	v, err := s.CreateIfAbsent(ctx, "tbl", "k", []byte("one"))
	require.NoError(t, err)

	err = s.Delete(ctx, "tbl", "k", v+1000)
	assert.True(t, metaerrors.IsConcurrentModification(err))

	require.NoError(t, s.Delete(ctx, "tbl", "k", v))
	assert.True(t, metaerrors.IsNotFound(s.Delete(ctx, "tbl", "k", store.AnyVersion)))

	_, err = s.CreateIfAbsent(ctx, "tbl", "k", []byte("again"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "tbl", "k", store.AnyVersion))
}

func testVersionsNotReused(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "tbl"))

	v1, err := s.CreateIfAbsent(ctx, "tbl", "k", []byte("one"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "tbl", "k", v1))

	v2, err := s.CreateIfAbsent(ctx, "tbl", "k", []byte("two"))
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	_, err = s.Update(ctx, "tbl", "k", []byte("three"), v1)
	assert.True(t, metaerrors.IsConcurrentModification(err))
}

func testDeleteTable(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "tbl"))
	require.NoError(t, s.CreateTable(ctx, "other"))

	_, err := s.CreateIfAbsent(ctx, "tbl", "a", []byte("1"))
	require.NoError(t, err)
	_, err = s.CreateIfAbsent(ctx, "other", "a", []byte("2"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteTable(ctx, "tbl"))
	require.NoError(t, s.DeleteTable(ctx, "tbl"))

	_, _, err = s.Get(ctx, "tbl", "a")
	assert.True(t, metaerrors.IsNotFound(err))

	value, _, err := s.Get(ctx, "other", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), value)

	require.NoError(t, s.CreateTable(ctx, "tbl"))
	_, _, err = s.Get(ctx, "tbl", "a")
	assert.True(t, metaerrors.IsNotFound(err))
}

func testConcurrentUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "tbl"))

	v, err := s.CreateIfAbsent(ctx, "tbl", "k", []byte("start"))
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(ctx, "tbl", "k", []byte{byte(i)}, v)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, metaerrors.IsConcurrentModification(err), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func testPing(t *testing.T, s store.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}
