package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/chat"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
)

// RAGHandler serves retrieval-augmented queries and the filter label sets.
type RAGHandler struct {
	engine *chat.Engine
	labels *retrieval.Engine
	log    *logger.Logger
}

func NewRAGHandler(engine *chat.Engine, labels *retrieval.Engine, baseLog *logger.Logger) *RAGHandler {
	return &RAGHandler{
		engine: engine,
		labels: labels,
		log:    baseLog.With("service", "RAGHandler"),
	}
}

func (h *RAGHandler) Query(c *gin.Context) {
	var req chat.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	resp, err := h.engine.Ask(c.Request.Context(), req)
	if err != nil {
		h.log.Error("query failed", "error", err)
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, resp)
}

// Labels returns the distinct chat and sender names for filter dropdowns.
func (h *RAGHandler) Labels(c *gin.Context) {
	chats, senders, err := h.labels.RefreshLabels(c.Request.Context())
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"chats": chats, "senders": senders})
}
