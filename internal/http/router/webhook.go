package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/ghsync/internal/http/handler/webhook"
)

func WebhookRouter(rg *gin.RouterGroup, h *webhook.GitHubWebhookHandler) {
	rg.POST("/github", h.HandleEvent)
	rg.GET("/github", h.Health)
}
