package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/plugins"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/settings"
)

// PluginAdminHandler manages the channel set and the vector collection.
type PluginAdminHandler struct {
	registry *plugins.Registry
	store    qdrant.Store
	engine   *retrieval.Engine
	settings settings.Service
	log      *logger.Logger
}

func NewPluginAdminHandler(registry *plugins.Registry, store qdrant.Store, engine *retrieval.Engine, sv settings.Service, baseLog *logger.Logger) *PluginAdminHandler {
	return &PluginAdminHandler{
		registry: registry,
		store:    store,
		engine:   engine,
		settings: sv,
		log:      baseLog.With("service", "PluginAdminHandler"),
	}
}

func (h *PluginAdminHandler) List(c *gin.Context) {
	RespondOK(c, gin.H{"plugins": h.registry.List()})
}

func (h *PluginAdminHandler) Health(c *gin.Context) {
	RespondOK(c, h.registry.Health(c.Request.Context()))
}

func (h *PluginAdminHandler) Enable(c *gin.Context) {
	name := c.Param("name")
	if err := h.registry.Enable(c.Request.Context(), name); err != nil {
		RespondError(c, http.StatusConflict, "enable_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "enabled", "plugin": name})
}

func (h *PluginAdminHandler) Disable(c *gin.Context) {
	name := c.Param("name")
	if err := h.registry.Disable(c.Request.Context(), name); err != nil {
		RespondError(c, http.StatusConflict, "disable_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "disabled", "plugin": name})
}

// ListSettings returns every setting row with secrets masked.
func (h *PluginAdminHandler) ListSettings(c *gin.Context) {
	rows, err := h.settings.List(c.Request.Context())
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"settings": rows})
}

func (h *PluginAdminHandler) SetSetting(c *gin.Context) {
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.Key == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("key is required"))
		return
	}
	if err := h.settings.Set(c.Request.Context(), req.Key, req.Value); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_value", err)
		return
	}
	RespondOK(c, gin.H{"status": "set", "key": req.Key})
}

// ResetCollection drops and re-creates the vector collection with its
// payload indexes, then invalidates the label caches built from it.
func (h *PluginAdminHandler) ResetCollection(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.store.Reset(ctx); err != nil {
		RespondFromErr(c, err)
		return
	}
	h.engine.InvalidateLabels(ctx)
	h.log.Warn("vector collection reset")
	RespondOK(c, gin.H{"status": "reset"})
}
