package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
)

// Script return codes
const (
	redisConflict = -1
	redisNotFound = -2
)

var createIfAbsentScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then return -2 end
if redis.call('EXISTS', KEYS[2]) == 1 then return -1 end
local v = redis.call('INCR', KEYS[4])
redis.call('HSET', KEYS[2], 'v', ARGV[3], 'ver', v)
redis.call('SADD', KEYS[3], ARGV[2])
return v
`)

var updateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ver')
if not cur then return {-2, 0} end
if tonumber(cur) ~= tonumber(ARGV[2]) then return {-1, tonumber(cur)} end
local v = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'ver', v)
return {0, v}
`)

var deleteScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ver')
if not cur then return {-2, 0} end
if tonumber(ARGV[1]) ~= -1 and tonumber(cur) ~= tonumber(ARGV[1]) then return {-1, tonumber(cur)} end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return {0, 0}
`)

// RedisStore implements Store on Redis. Each entry is a hash holding the
// payload and its version; conditional writes run as Lua scripts.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a new Redis store
func NewRedisStore(host string, port int, password string, db int, prefix string, logger *zap.Logger) (*RedisStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, prefix, logger), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// CreateTable registers the table
func (s *RedisStore) CreateTable(ctx context.Context, table string) error {
	return s.client.SAdd(ctx, s.tablesKey(), table).Err()
}

// DeleteTable removes the table and all its entries
func (s *RedisStore) DeleteTable(ctx context.Context, table string) error {
	keys, err := s.client.SMembers(ctx, s.keySetKey(table)).Result()
	if err != nil {
		return fmt.Errorf("failed to list table keys: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, s.entryKey(table, key))
		}
		pipe.Del(ctx, s.keySetKey(table))
		pipe.SRem(ctx, s.tablesKey(), table)
		return nil
	})
	return err
}

// CreateIfAbsent inserts the entry unless the key exists
func (s *RedisStore) CreateIfAbsent(ctx context.Context, table, key string, value []byte) (Version, error) {
	keys := []string{s.tablesKey(), s.entryKey(table, key), s.keySetKey(table), s.versionKey()}
	res, err := createIfAbsentScript.Run(ctx, s.client, keys, table, key, value).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to create entry: %w", err)
	}
	switch res {
	case redisNotFound:
		return 0, metaerrors.TableNotFound(table)
	case redisConflict:
		return 0, metaerrors.AlreadyExists(table, key)
	}
	return Version(res), nil
}

// Get returns the entry value and version
func (s *RedisStore) Get(ctx context.Context, table, key string) ([]byte, Version, error) {
	vals, err := s.client.HMGet(ctx, s.entryKey(table, key), "v", "ver").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get entry: %w", err)
	}
	if vals[0] == nil || vals[1] == nil {
		return nil, 0, metaerrors.NotFound(table, key)
	}

	value, _ := vals[0].(string)
	raw, _ := vals[1].(string)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, 0, metaerrors.DataCorruption(table, key, err)
	}
	return []byte(value), Version(v), nil
}

// Update replaces the entry if its version equals expected
func (s *RedisStore) Update(ctx context.Context, table, key string, value []byte, expected Version) (Version, error) {
	keys := []string{s.entryKey(table, key), s.versionKey()}
	code, v, err := runPair(ctx, updateScript, s.client, keys, value, int64(expected))
	if err != nil {
		return 0, fmt.Errorf("failed to update entry: %w", err)
	}
	switch code {
	case redisNotFound:
		return 0, metaerrors.NotFound(table, key)
	case redisConflict:
		return 0, metaerrors.ConcurrentModification(table, key, int64(expected), v)
	}
	return Version(v), nil
}

// Delete removes the entry if its version equals expected, or unconditionally with AnyVersion
func (s *RedisStore) Delete(ctx context.Context, table, key string, expected Version) error {
	keys := []string{s.entryKey(table, key), s.keySetKey(table)}
	code, v, err := runPair(ctx, deleteScript, s.client, keys, int64(expected), key)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	switch code {
	case redisNotFound:
		return metaerrors.NotFound(table, key)
	case redisConflict:
		return metaerrors.ConcurrentModification(table, key, int64(expected), v)
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) tablesKey() string {
	return s.prefix + "tables"
}

func (s *RedisStore) versionKey() string {
	return s.prefix + "version"
}

func (s *RedisStore) keySetKey(table string) string {
	return s.prefix + "t:" + table + ":keys"
}

func (s *RedisStore) entryKey(table, key string) string {
	return s.prefix + "t:" + table + ":e:" + key
}

// runPair runs a script returning {code, value}
func runPair(ctx context.Context, script *redis.Script, client *redis.Client, keys []string, args ...interface{}) (int64, int64, error) {
	res, err := script.Run(ctx, client, keys, args...).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected script result %v", res)
	}
	return res[0], res[1], nil
}
