package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/chat"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
)

// ConversationHandler exposes the durable session store.
type ConversationHandler struct {
	store *chat.Store
	log   *logger.Logger
}

func NewConversationHandler(store *chat.Store, baseLog *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store: store,
		log:   baseLog.With("service", "ConversationHandler"),
	}
}

func (h *ConversationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	conversations, err := h.store.ListConversations(c.Request.Context(), limit)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"conversations": conversations})
}

// Create opens a fresh session up front. Sessions also open implicitly on
// the first query, so this exists for clients that want the id early.
func (h *ConversationHandler) Create(c *gin.Context) {
	id, err := h.store.EnsureConversation(c.Request.Context(), "")
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation_id": id})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	id := c.Param("id")
	conversation, turns, err := h.store.GetConversation(c.Request.Context(), id)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	if conversation == nil {
		RespondError(c, http.StatusNotFound, "not_found", nil)
		return
	}
	cost, err := h.store.SessionCost(c.Request.Context(), id)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{
		"conversation": conversation,
		"turns":        turns,
		"session_cost": cost,
	})
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "deleted"})
}
