package redisx

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
)

const labelCachePrefix = "lifelog:labels:"

// LabelCache caches the distinct chat_name / sender sets used to populate
// filter dropdowns, so every request does not scroll the whole collection.
// Backed by Redis when available so multiple workers share one cache; falls
// back to an in-process map otherwise.
type LabelCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration

	mu    sync.RWMutex
	local map[string]localEntry
}

type localEntry struct {
	values  []string
	expires time.Time
}

func NewLabelCache(log *logger.Logger, rdb *goredis.Client, ttl time.Duration) *LabelCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &LabelCache{
		log:   log.With("service", "LabelCache"),
		rdb:   rdb,
		ttl:   ttl,
		local: make(map[string]localEntry),
	}
}

func (c *LabelCache) Get(ctx context.Context, key string) ([]string, bool) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, labelCachePrefix+key).Bytes()
		if err == nil {
			var values []string
			if json.Unmarshal(raw, &values) == nil {
				return values, true
			}
		}
		if err != nil && err != goredis.Nil {
			c.log.Warn("label cache read failed, falling back to local", "key", key, "error", err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.local[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.values, true
}

func (c *LabelCache) Set(ctx context.Context, key string, values []string) {
	if c.rdb != nil {
		raw, err := json.Marshal(values)
		if err == nil {
			if err := c.rdb.Set(ctx, labelCachePrefix+key, raw, c.ttl).Err(); err != nil {
				c.log.Warn("label cache write failed", "key", key, "error", err)
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[key] = localEntry{values: values, expires: time.Now().Add(c.ttl)}
}

// Invalidate drops keys after mutations that change the label universe,
// e.g. a collection reset.
func (c *LabelCache) Invalidate(ctx context.Context, keys ...string) {
	if c.rdb != nil {
		full := make([]string, 0, len(keys))
		for _, k := range keys {
			full = append(full, labelCachePrefix+k)
		}
		if err := c.rdb.Del(ctx, full...).Err(); err != nil {
			c.log.Warn("label cache invalidate failed", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.local, k)
	}
}
