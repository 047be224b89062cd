package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/plugins"
)

const (
	depUp          = "up"
	depDegraded    = "degraded"
	depUnreachable = "unreachable"
)

// HealthHandler reports per-dependency status for the whole stack.
type HealthHandler struct {
	db       *gorm.DB
	store    qdrant.Store
	rdb      *goredis.Client
	registry *plugins.Registry
	log      *logger.Logger
}

func NewHealthHandler(db *gorm.DB, store qdrant.Store, rdb *goredis.Client, registry *plugins.Registry, baseLog *logger.Logger) *HealthHandler {
	return &HealthHandler{
		db:       db,
		store:    store,
		rdb:      rdb,
		registry: registry,
		log:      baseLog.With("service", "HealthHandler"),
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	deps := gin.H{
		"sqlite": h.sqliteStatus(ctx),
		"qdrant": h.qdrantStatus(ctx),
		"redis":  h.redisStatus(ctx),
	}

	healthy := true
	for _, v := range deps {
		if v == depUnreachable {
			healthy = false
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
		"plugins":      h.registry.Health(ctx),
	})
}

func (h *HealthHandler) sqliteStatus(ctx context.Context) string {
	sqlDB, err := h.db.DB()
	if err != nil {
		return depUnreachable
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return depUnreachable
	}
	return depUp
}

func (h *HealthHandler) qdrantStatus(ctx context.Context) string {
	if _, err := h.store.Count(ctx, nil); err != nil {
		return depUnreachable
	}
	return depUp
}

// redisStatus reports degraded rather than unreachable when Redis is
// absent: every Redis-backed feature has an in-process fallback.
func (h *HealthHandler) redisStatus(ctx context.Context) string {
	if h.rdb == nil {
		return depDegraded
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		return depUnreachable
	}
	return depUp
}
