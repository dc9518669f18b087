package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blocklist-app/blocklist-server/internal/middleware"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/query"
	"github.com/blocklist-app/blocklist-server/internal/service"
)

// SuggestionHandler serves suggestion intake and review.
type SuggestionHandler struct {
	suggestions *service.SuggestionService
}

// NewSuggestionHandler creates a SuggestionHandler.
func NewSuggestionHandler(suggestions *service.SuggestionService) *SuggestionHandler {
	return &SuggestionHandler{suggestions: suggestions}
}

// Submit handles POST /api/suggestions.
func (h *SuggestionHandler) Submit(c *gin.Context) {
	var req models.SubmitSuggestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	result, err := h.suggestions.Submit(c.Request.Context(), middleware.GetIdentity(c), &req, middleware.ClientIP(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// List handles GET /api/admin/suggestions.
func (h *SuggestionHandler) List(c *gin.Context) {
	status := models.SuggestionStatus(c.DefaultQuery("status", string(models.SuggestionStatusPending)))
	page := query.ParsePage(c.Query("page"))
	limit := query.ParseLimit(c.Query("limit"), query.DefaultReviewLimit)

	list, err := h.suggestions.List(c.Request.Context(), status, page, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Approve handles PUT /api/admin/suggestions/:id/approve.
func (h *SuggestionHandler) Approve(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.suggestions.Approve(c.Request.Context(), id, actorOf(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "Suggestion approved",
		"addedToBlocked": result.AddedToBlocked,
	})
}

// Reject handles PUT /api/admin/suggestions/:id/reject.
func (h *SuggestionHandler) Reject(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.suggestions.Reject(c.Request.Context(), id, actorOf(c)); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Suggestion rejected"})
}

// AuditHandler serves the audit log.
type AuditHandler struct {
	audit *service.AuditService
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List handles GET /api/admin/audit.
func (h *AuditHandler) List(c *gin.Context) {
	page := query.ParsePage(c.Query("page"))
	limit := query.ParseLimit(c.Query("limit"), query.DefaultReviewLimit)

	list, err := h.audit.List(c.Request.Context(), page, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
