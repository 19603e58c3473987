package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"basegraph.app/ghsync/common/id"
	"basegraph.app/ghsync/common/logger"
	"basegraph.app/ghsync/common/otel"
	"basegraph.app/ghsync/core/config"
	"basegraph.app/ghsync/core/db"
	"basegraph.app/ghsync/internal/http/middleware"
	httprouter "basegraph.app/ghsync/internal/http/router"
	"basegraph.app/ghsync/internal/queue"
	"basegraph.app/ghsync/internal/service"
	"basegraph.app/ghsync/internal/store"
	"basegraph.app/ghsync/internal/webhook"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "ghsync server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(id.NodeServer); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.Stream)

	producer := queue.NewRedisProducer(redisClient, cfg.Redis.Stream, slog.Default())
	defer producer.Close()

	stores := store.NewStores(database.Conn(), cfg.Sync.StaleAfter)
	services := service.NewServices(
		stores,
		service.NewTxRunner(database),
		service.NewGitHubAPIClient(cfg),
		producer,
		cfg,
	)

	var cache webhook.DeliveryCache
	if cfg.Webhook.UsesRedis() {
		cache = webhook.NewRedisDeliveryCache(redisClient, cfg.Redis.DedupKey, cfg.Webhook.DedupTTL)
	} else {
		cache = webhook.NewMemoryDeliveryCache(cfg.Webhook.DedupCapacity)
	}
	slog.InfoContext(ctx, "webhook delivery cache ready", "backend", cfg.Webhook.DedupBackend)

	receiver := webhook.NewReceiver(cfg.Webhook.Secret, cache, services.GitHubEvents())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, receiver)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A user triggered sync runs inside the request.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services, receiver *webhook.Receiver) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		Receiver: receiver,
	})

	return router
}

const banner = `
        __                          
  ____ / /_  _______  ______  _____ 
 / __ '/ __ \/ ___/ / / / __ \/ ___/
/ /_/ / / / (__  ) /_/ / / / / /__  
\__, /_/ /_/____/\__, /_/ /_/\___/  
/____/          /____/   server
`
