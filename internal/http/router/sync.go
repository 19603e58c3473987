package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/ghsync/internal/http/handler"
)

func SyncRouter(rg *gin.RouterGroup, h *handler.SyncHandler) {
	rg.POST("/:id/sync-issues", h.SyncIssues)
	rg.GET("/:id/sync-status", h.SyncStatus)
}

func IssueRouter(rg *gin.RouterGroup, h *handler.IssueHandler) {
	rg.POST("/:id/issues/:number/enhancement", h.Enhance)
}
