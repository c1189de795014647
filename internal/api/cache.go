package api

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	pkgredis "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/redis"
)

const keyPrefix = "geocode:"

// CacheStore is the key-value backend of the response cache.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// QueryCache keeps encoded GeocodeJSON responses keyed by endpoint and the
// parsed request, so that parameter order and defaults do not matter.
// Concurrent misses for the same key are computed once.
type QueryCache struct {
	store  CacheStore
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func NewQueryCache(store CacheStore, ttl time.Duration) *QueryCache {
	return &QueryCache{
		store:  store,
		ttl:    ttl,
		logger: slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return []byte(data), true
}

func (c *QueryCache) set(ctx context.Context, key string, body []byte) {
	if err := c.store.Set(ctx, key, body, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached body for (endpoint, req) or stores the
// result of compute. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	endpoint string,
	req any,
	compute func() ([]byte, error),
) ([]byte, bool, error) {
	key, err := buildKey(endpoint, req)
	if err != nil {
		return nil, false, err
	}
	if body, ok := c.get(ctx, key); ok {
		c.hits.Add(1)
		return body, true, nil
	}
	c.misses.Add(1)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if body, ok := c.get(ctx, key); ok {
			return body, nil
		}
		body, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, body)
		return body, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]byte), false, nil
}

// Invalidate removes every cached response.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes the endpoint and the JSON form of the parsed request.
func buildKey(endpoint string, req any) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding cache key: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(endpoint))
	h.Write([]byte{0})
	h.Write(raw)
	return fmt.Sprintf("%s%s:%x", keyPrefix, endpoint, h.Sum(nil)[:16]), nil
}
