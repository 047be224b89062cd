package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/identity"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
)

// EntityHandler exposes the person graph: listing, search, merge surgery,
// aliases, facts, relationships and graph exports.
type EntityHandler struct {
	identity identity.Service
	log      *logger.Logger
}

func NewEntityHandler(idsvc identity.Service, baseLog *logger.Logger) *EntityHandler {
	return &EntityHandler{
		identity: idsvc,
		log:      baseLog.With("service", "EntityHandler"),
	}
}

func (h *EntityHandler) List(c *gin.Context) {
	persons, err := h.identity.ListPersons(c.Request.Context())
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"persons": persons})
}

func (h *EntityHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	detail, err := h.identity.GetPerson(c.Request.Context(), id)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	if detail == nil {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("person %d not found", id))
		return
	}
	RespondOK(c, detail)
}

// Search resolves a free-text name across canonical names and aliases,
// both scripts.
func (h *EntityHandler) Search(c *gin.Context) {
	name := strings.TrimSpace(c.Query("q"))
	if name == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("query parameter q is required"))
		return
	}
	persons, err := h.identity.ResolveName(c.Request.Context(), name)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"persons": persons})
}

func (h *EntityHandler) Rename(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.identity.RenamePerson(c.Request.Context(), id, req.Name); err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "renamed"})
}

func (h *EntityHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.identity.DeletePerson(c.Request.Context(), id); err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "deleted"})
}

func (h *EntityHandler) Merge(c *gin.Context) {
	var req struct {
		TargetID  int64   `json:"target_id"`
		SourceIDs []int64 `json:"source_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	result, err := h.identity.MergePersons(c.Request.Context(), req.TargetID, req.SourceIDs)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, result)
}

func (h *EntityHandler) MergeCandidates(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	candidates, err := h.identity.FindMergeCandidates(c.Request.Context(), limit)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"candidates": candidates})
}

func (h *EntityHandler) AddAlias(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Alias  string `json:"alias"`
		Source string `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.identity.AddAlias(c.Request.Context(), id, req.Alias, req.Source); err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "added"})
}

func (h *EntityHandler) DeleteAlias(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	aliasID, err := strconv.ParseInt(c.Param("aliasId"), 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid alias id"))
		return
	}
	if err := h.identity.DeleteAlias(c.Request.Context(), id, aliasID); err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "deleted"})
}

func (h *EntityHandler) SetFact(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var fact identity.FactView
	if err := c.ShouldBindJSON(&fact); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.identity.SetFact(c.Request.Context(), id, fact); err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "set"})
}

func (h *EntityHandler) DeleteFact(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	key := c.Param("key")
	if err := h.identity.DeleteFact(c.Request.Context(), id, key); err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "deleted"})
}

func (h *EntityHandler) AddRelationship(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		RelatedPersonID int64   `json:"related_person_id"`
		Type            string  `json:"type"`
		Confidence      float64 `json:"confidence"`
		SourceRef       string  `json:"source_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	err := h.identity.AddRelationship(c.Request.Context(), id, req.RelatedPersonID, req.Type, req.Confidence, req.SourceRef)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "added"})
}

func (h *EntityHandler) Seed(c *gin.Context) {
	var req struct {
		Contacts []identity.Contact `json:"contacts"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	result, err := h.identity.SeedFromContacts(c.Request.Context(), req.Contacts)
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, result)
}

func (h *EntityHandler) Cleanup(c *gin.Context) {
	removed, err := h.identity.CleanupGarbagePersons(c.Request.Context())
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"removed": removed})
}

func (h *EntityHandler) RefreshDisplayNames(c *gin.Context) {
	updated, err := h.identity.RefreshDisplayNames(c.Request.Context())
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, gin.H{"updated": updated})
}

// Graph returns persons and relationships only.
func (h *EntityHandler) Graph(c *gin.Context) {
	graph, err := h.identity.PersonGraph(c.Request.Context())
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, graph)
}

// FullGraph adds asset nodes and asset-asset edges.
func (h *EntityHandler) FullGraph(c *gin.Context) {
	graph, err := h.identity.FullGraph(c.Request.Context())
	if err != nil {
		RespondFromErr(c, err)
		return
	}
	RespondOK(c, graph)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid id"))
		return 0, false
	}
	return id, true
}
