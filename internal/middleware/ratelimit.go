package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/redisx"
)

// RateLimitMiddleware throttles LLM-backed endpoints per client IP. These
// endpoints spend real money per call; everything else stays unthrottled.
type RateLimitMiddleware struct {
	limiter *redisx.RateLimiter
	log     *logger.Logger
}

func NewRateLimitMiddleware(limiter *redisx.RateLimiter, baseLog *logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		log:     baseLog.With("service", "RateLimitMiddleware"),
	}
}

func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !m.limiter.Allow(c.Request.Context(), key) {
			m.log.Warn("rate limit exceeded", "client", key, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, slow down",
			})
			return
		}
		c.Next()
	}
}
