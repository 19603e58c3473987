package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/ghsync/internal/http/dto"
	"basegraph.app/ghsync/internal/http/middleware"
	"basegraph.app/ghsync/internal/service"
)

type IssueHandler struct {
	enhancement service.IssueEnhancementService
}

func NewIssueHandler(enhancement service.IssueEnhancementService) *IssueHandler {
	return &IssueHandler{enhancement: enhancement}
}

func (h *IssueHandler) Enhance(c *gin.Context) {
	ctx := c.Request.Context()

	user := middleware.GetUser(ctx)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	repoID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid number"})
		return
	}

	var req dto.EnhanceIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issue, err := h.enhancement.Enhance(ctx, user.ID, repoID, number, req.EnhancedDescription)
	if err != nil {
		if writeServiceError(c, err) {
			return
		}
		slog.ErrorContext(ctx, "issue enhancement failed", "error", err, "repository_id", repoID, "number", number)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to update issue on github"})
		return
	}

	c.JSON(http.StatusOK, dto.ToIssueResponse(issue))
}
