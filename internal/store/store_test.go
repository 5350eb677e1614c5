package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/metastore/internal/store"
	"github.com/devrev/pairdb/metastore/internal/store/storetest"
)

func TestMemoryStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemoryStore()
	})
}

func TestBoltStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "metastore.db"), time.Second, zap.NewNop())
		if err != nil {
			t.Fatalf("open bolt store: %v", err)
		}
		return s
	})
}

func TestRedisStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return store.NewRedisStoreWithClient(client, "metastore:", zap.NewNop())
	})
}

func TestPostgresStore_Conformance(t *testing.T) {
	dsn := os.Getenv("METASTORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("METASTORE_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		s, err := store.OpenPostgresStore(ctx, dsn, zap.NewNop())
		if err != nil {
			t.Fatalf("open postgres store: %v", err)
		}
		_, err = store.PostgresPool(s).Exec(ctx, `TRUNCATE metadata_tables CASCADE`)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
