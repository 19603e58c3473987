package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/ghsync/internal/http/dto"
	"basegraph.app/ghsync/internal/http/middleware"
	"basegraph.app/ghsync/internal/service"
)

type SyncHandler struct {
	syncService service.SyncService
}

func NewSyncHandler(syncService service.SyncService) *SyncHandler {
	return &SyncHandler{syncService: syncService}
}

func (h *SyncHandler) SyncIssues(c *gin.Context) {
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

	var req dto.SyncIssuesRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.syncService.SyncForUser(ctx, user.ID, repoID, req.FullSync)
	if err != nil {
		if writeServiceError(c, err) {
			return
		}
		slog.ErrorContext(ctx, "issue sync failed", "error", err, "repository_id", repoID)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "sync failed"})
		return
	}

	c.JSON(http.StatusOK, dto.ToSyncIssuesResponse(result))
}

func (h *SyncHandler) SyncStatus(c *gin.Context) {
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

	status, err := h.syncService.StatusForUser(ctx, user.ID, repoID)
	if err != nil {
		if writeServiceError(c, err) {
			return
		}
		slog.ErrorContext(ctx, "failed to get sync status", "error", err, "repository_id", repoID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get sync status"})
		return
	}

	c.JSON(http.StatusOK, dto.ToSyncStatusResponse(status))
}

// writeServiceError maps the service sentinels to responses. It reports
// false for errors it does not know.
func writeServiceError(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, service.ErrRepositoryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Sync already in progress"})
	case errors.Is(err, service.ErrRepositoryDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": "repository is disabled"})
	case errors.Is(err, service.ErrIssueNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "issue not found"})
	case errors.Is(err, service.ErrEmptyEnhancement):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		return false
	}
	return true
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
