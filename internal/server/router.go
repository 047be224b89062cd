package server

import (
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/handlers"
	"github.com/lifelogd/lifelog-backend/internal/middleware"
	"github.com/lifelogd/lifelog-backend/internal/plugins"
)

type RouterConfig struct {
	HealthHandler       *handlers.HealthHandler
	RAGHandler          *handlers.RAGHandler
	ConversationHandler *handlers.ConversationHandler
	EntityHandler       *handlers.EntityHandler
	ScheduledHandler    *handlers.ScheduledHandler
	PluginAdminHandler  *handlers.PluginAdminHandler
	RateLimit           *middleware.RateLimitMiddleware
	Registry            *plugins.Registry
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Webhook-Secret"},
		AllowCredentials: true,
	}))

	router.GET("/health", cfg.HealthHandler.Check)

	// RAG. Query burns LLM tokens, so it sits behind the rate limiter.
	rag := router.Group("/rag")
	rag.POST("/query", cfg.RateLimit.Limit(), cfg.RAGHandler.Query)
	rag.GET("/labels", cfg.RAGHandler.Labels)

	// Conversations
	conversations := router.Group("/conversations")
	conversations.GET("", cfg.ConversationHandler.List)
	conversations.POST("", cfg.ConversationHandler.Create)
	conversations.GET("/:id", cfg.ConversationHandler.Get)
	conversations.DELETE("/:id", cfg.ConversationHandler.Delete)

	// Entities
	entities := router.Group("/entities")
	entities.GET("", cfg.EntityHandler.List)
	entities.GET("/search", cfg.EntityHandler.Search)
	entities.GET("/graph", cfg.EntityHandler.Graph)
	entities.GET("/full-graph", cfg.EntityHandler.FullGraph)
	entities.GET("/merge-candidates", cfg.EntityHandler.MergeCandidates)
	entities.POST("/merge", cfg.EntityHandler.Merge)
	entities.POST("/seed", cfg.EntityHandler.Seed)
	entities.POST("/cleanup", cfg.EntityHandler.Cleanup)
	entities.POST("/refresh-display-names", cfg.EntityHandler.RefreshDisplayNames)
	entities.GET("/:id", cfg.EntityHandler.Get)
	entities.PUT("/:id/name", cfg.EntityHandler.Rename)
	entities.DELETE("/:id", cfg.EntityHandler.Delete)
	entities.POST("/:id/aliases", cfg.EntityHandler.AddAlias)
	entities.DELETE("/:id/aliases/:aliasId", cfg.EntityHandler.DeleteAlias)
	entities.PUT("/:id/facts", cfg.EntityHandler.SetFact)
	entities.DELETE("/:id/facts/:key", cfg.EntityHandler.DeleteFact)
	entities.POST("/:id/relationships", cfg.EntityHandler.AddRelationship)

	// Scheduler. Run-now executes through the LLM and shares the limiter.
	scheduled := router.Group("/scheduled")
	scheduled.GET("", cfg.ScheduledHandler.List)
	scheduled.POST("", cfg.ScheduledHandler.Create)
	scheduled.GET("/:id", cfg.ScheduledHandler.Get)
	scheduled.PUT("/:id", cfg.ScheduledHandler.Update)
	scheduled.DELETE("/:id", cfg.ScheduledHandler.Delete)
	scheduled.POST("/:id/toggle", cfg.ScheduledHandler.Toggle)
	scheduled.POST("/:id/run", cfg.RateLimit.Limit(), cfg.ScheduledHandler.RunNow)
	scheduled.GET("/:id/results", cfg.ScheduledHandler.Results)
	scheduled.POST("/results/:resultId/rate", cfg.ScheduledHandler.Rate)

	// Plugins: admin surface plus every channel's own routes.
	pluginGroup := router.Group("/plugins")
	pluginGroup.GET("", cfg.PluginAdminHandler.List)
	pluginGroup.GET("/health", cfg.PluginAdminHandler.Health)
	pluginGroup.GET("/settings", cfg.PluginAdminHandler.ListSettings)
	pluginGroup.PUT("/settings", cfg.PluginAdminHandler.SetSetting)
	pluginGroup.POST("/reset-collection", cfg.PluginAdminHandler.ResetCollection)
	pluginGroup.POST("/enable/:name", cfg.PluginAdminHandler.Enable)
	pluginGroup.POST("/disable/:name", cfg.PluginAdminHandler.Disable)
	cfg.Registry.Mount(pluginGroup)

	return router
}

func allowedOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("CORS_ORIGINS"))
	if raw == "" {
		return []string{"http://localhost:3000", "http://localhost:5173"}
	}
	out := make([]string, 0)
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
