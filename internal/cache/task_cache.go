// Package cache implements the cache-aside layer in front of the task
// store. Entries are keyed per owner so that any write by that owner can
// invalidate everything the owner might have cached with a single key
// pattern. The cache is strictly best-effort: a nil client or any Redis
// error degrades to the primary datastore and is logged, never returned.
package cache

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// TaskCache stores serialized task payloads in Redis with a fixed TTL.
// A TaskCache with a nil client is valid and turns every operation into a
// no-op, which is how the service runs when Redis is unreachable at
// startup or caching is disabled.
type TaskCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New builds a TaskCache. Passing a nil client or enabled=false yields a
// disabled cache.
func New(rdb *redis.Client, ttl time.Duration, enabled bool) *TaskCache {
	if !enabled {
		rdb = nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TaskCache{rdb: rdb, ttl: ttl}
}

// Enabled reports whether the cache has a live Redis client behind it.
func (c *TaskCache) Enabled() bool { return c != nil && c.rdb != nil }

// ItemKey addresses a single task scoped to its owner.
func ItemKey(ownerID, taskID uint64) string {
	return fmt.Sprintf("tasks:user:%d:item:%d", ownerID, taskID)
}

// ListKey addresses one page of an owner's list query. The normalized
// query string (filters, page, size, sort) is hashed so the key stays
// bounded regardless of parameter length.
func ListKey(ownerID uint64, normalizedQuery string) string {
	sum := sha1.Sum([]byte(normalizedQuery))
	return fmt.Sprintf("tasks:user:%d:list:%x", ownerID, sum)
}

// StatsKey addresses an owner's aggregated task counters.
func StatsKey(ownerID uint64) string {
	return fmt.Sprintf("tasks:user:%d:stats", ownerID)
}

func ownerPattern(ownerID uint64) string {
	return fmt.Sprintf("tasks:user:%d:*", ownerID)
}

// Get returns the payload stored under key, or ok=false on miss, error or
// disabled cache.
func (c *TaskCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("cache: get %s failed: %v", key, err)
		}
		return nil, false
	}
	return b, true
}

// Set stores a payload under key with the configured TTL. Failures are
// logged and dropped.
func (c *TaskCache) Set(ctx context.Context, key string, payload []byte) {
	if !c.Enabled() {
		return
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Printf("cache: set %s failed: %v", key, err)
	}
}

// InvalidateOwner deletes every cached entry belonging to an owner: the
// item keys, all list pages and the stats entry. Write paths call this
// before responding so an immediate re-read observes the new state. List
// keys are parameter-dependent and cannot be patched in place, which is
// why invalidation is eager instead of surgical.
func (c *TaskCache) InvalidateOwner(ctx context.Context, ownerID uint64) {
	if !c.Enabled() {
		return
	}
	iter := c.rdb.Scan(ctx, 0, ownerPattern(ownerID), 100).Iterator()
	keys := make([]string, 0, 16)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("cache: scan for owner %d failed: %v", ownerID, err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Printf("cache: invalidate owner %d failed: %v", ownerID, err)
	}
}
