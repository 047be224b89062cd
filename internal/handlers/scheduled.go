package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/scheduler"
)

// ScheduledHandler exposes the task store: CRUD, toggling, immediate runs,
// result history and rating.
type ScheduledHandler struct {
	scheduler *scheduler.Service
	log       *logger.Logger
}

func NewScheduledHandler(svc *scheduler.Service, baseLog *logger.Logger) *ScheduledHandler {
	return &ScheduledHandler{
		scheduler: svc,
		log:       baseLog.With("service", "ScheduledHandler"),
	}
}

func (h *ScheduledHandler) List(c *gin.Context) {
	tasks, err := h.scheduler.List(c.Request.Context())
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"tasks": tasks})
}

func (h *ScheduledHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	task, err := h.scheduler.Get(c.Request.Context(), id)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	if task == nil {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("task %d not found", id))
		return
	}
	RespondOK(c, task)
}

func (h *ScheduledHandler) Create(c *gin.Context) {
	var input scheduler.TaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	task, err := h.scheduler.Create(c.Request.Context(), input)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_schedule", err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *ScheduledHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var input scheduler.TaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	task, err := h.scheduler.Update(c.Request.Context(), id, input)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_schedule", err)
		return
	}
	RespondOK(c, task)
}

func (h *ScheduledHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.scheduler.Delete(c.Request.Context(), id); err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "deleted"})
}

func (h *ScheduledHandler) Toggle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	task, err := h.scheduler.Toggle(c.Request.Context(), id, req.Enabled)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, task)
}

func (h *ScheduledHandler) RunNow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.scheduler.RunNow(c.Request.Context(), id)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, result)
}

func (h *ScheduledHandler) Results(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	results, err := h.scheduler.Results(c.Request.Context(), id, limit)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"results": results})
}

func (h *ScheduledHandler) Rate(c *gin.Context) {
	resultID, err := strconv.ParseInt(c.Param("resultId"), 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid result id"))
		return
	}
	var req struct {
		Rating int `json:"rating"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.scheduler.Rate(c.Request.Context(), resultID, req.Rating); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_rating", err)
		return
	}
	RespondOK(c, gin.H{"status": "rated"})
}
