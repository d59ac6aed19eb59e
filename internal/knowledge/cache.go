// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package knowledge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the document-corpus cache keyed by a sorted join of knowledge
// base ids (§6.3) — it caches the fetched document set, not an answer, so
// the same corpus serves every distinct query against it.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// localCache is a small mutex-protected map standing in for the original's
// in-process LRU — used both as the standalone fallback when Redis is
// unreachable and, inside RedisCache, as a write-through warm copy.
type localCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newLocalCache() *localCache {
	return &localCache{data: make(map[string]string)}
}

func (c *localCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *localCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

// RedisCache is the Redis-backed document cache with an in-process
// fallback used whenever Redis itself is unavailable, per §6.3.
type RedisCache struct {
	client *redis.Client
	local  *localCache
}

// NewRedisCache constructs a Cache backed by client, falling back to a
// local map on any Redis error.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, local: newLocalCache()}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return val, true, nil
	}
	if errors.Is(err, redis.Nil) {
		return c.local.Get(ctx, key)
	}
	// Redis unavailable: fall back without surfacing the error.
	return c.local.Get(ctx, key)
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_ = c.local.Set(ctx, key, value, ttl)
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return nil // best-effort: the local copy still makes the cache useful this process's lifetime
	}
	return nil
}
