package redisx

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
)

// NewClient connects to Redis from REDIS_ADDR (or REDIS_HOST/REDIS_PORT).
// Returns (nil, nil) when no address is configured; callers fall back to
// in-process storage.
func NewClient(log *logger.Logger) (*goredis.Client, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		host := strings.TrimSpace(os.Getenv("REDIS_HOST"))
		port := strings.TrimSpace(os.Getenv("REDIS_PORT"))
		if host == "" {
			return nil, nil
		}
		if port == "" {
			port = "6379"
		}
		addr = host + ":" + port
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("redis connected", "addr", addr)
	return rdb, nil
}
