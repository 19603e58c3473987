package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/ghsync/internal/http/handler"
	"basegraph.app/ghsync/internal/http/handler/webhook"
	"basegraph.app/ghsync/internal/http/middleware"
	"basegraph.app/ghsync/internal/service"
)

type RouterConfig struct {
	Receiver webhook.DeliveryReceiver
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	WebhookRouter(router.Group("/webhooks"), webhook.NewGitHubWebhookHandler(cfg.Receiver))

	repos := router.Group("/repositories", middleware.RequireAuth(services.Auth()))
	{
		SyncRouter(repos, handler.NewSyncHandler(services.Sync()))
		IssueRouter(repos, handler.NewIssueHandler(services.Enhancement()))
	}
}
