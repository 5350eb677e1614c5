package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// InMemoryCache implements Cache with a size bounded LRU whose entries expire after a TTL
type InMemoryCache struct {
	lru    *expirable.LRU[string, interface{}]
	logger *zap.Logger
}

// NewInMemoryCache creates a new in-memory cache
func NewInMemoryCache(maxSize int, ttl time.Duration, logger *zap.Logger) *InMemoryCache {
	c := &InMemoryCache{logger: logger}
	c.lru = expirable.NewLRU[string, interface{}](maxSize, c.onEvict, ttl)
	return c
}

// Get retrieves a value from cache
func (c *InMemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	value, ok := c.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return value, nil
}

// Set stores a value in cache
func (c *InMemoryCache) Set(ctx context.Context, key string, value interface{}) error {
	c.lru.Add(key, value)
	return nil
}

// Delete removes a value from cache
func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Size returns the number of items in cache
func (c *InMemoryCache) Size() int {
	return c.lru.Len()
}

func (c *InMemoryCache) onEvict(key string, _ interface{}) {
	c.logger.Debug("Cache entry evicted", zap.String("key", key))
}
