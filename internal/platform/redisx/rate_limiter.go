package redisx

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
)

const rateLimitPrefix = "lifelog:ratelimit:"

// RateLimiter is a fixed-window counter keyed by client address. Counters
// live in Redis so every worker shares them; without Redis it degrades to a
// per-process window.
type RateLimiter struct {
	log    *logger.Logger
	rdb    *goredis.Client
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*localWindow
}

type localWindow struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(log *logger.Logger, rdb *goredis.Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		log:     log.With("service", "RateLimiter"),
		rdb:     rdb,
		limit:   limit,
		window:  window,
		windows: make(map[string]*localWindow),
	}
}

// Allow reports whether the caller identified by key may proceed.
// Fails open on Redis errors: a broken limiter must not take down queries.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.rdb != nil {
		full := rateLimitPrefix + key
		count, err := rl.rdb.Incr(ctx, full).Result()
		if err != nil {
			rl.log.Warn("rate limiter incr failed, allowing request", "error", err)
			return true
		}
		if count == 1 {
			_ = rl.rdb.Expire(ctx, full, rl.window).Err()
		}
		return count <= int64(rl.limit)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	w, ok := rl.windows[key]
	if !ok || now.After(w.resetAt) {
		rl.windows[key] = &localWindow{count: 1, resetAt: now.Add(rl.window)}
		return true
	}
	w.count++
	return w.count <= rl.limit
}
