package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/ghsync/common/id"
	"basegraph.app/ghsync/common/logger"
	"basegraph.app/ghsync/common/otel"
	"basegraph.app/ghsync/core/config"
	"basegraph.app/ghsync/core/db"
	"basegraph.app/ghsync/internal/queue"
	"basegraph.app/ghsync/internal/service"
	"basegraph.app/ghsync/internal/store"
	"basegraph.app/ghsync/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "ghsync worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Redis.Group,
		"consumer_name", cfg.Redis.Consumer)

	if err := id.Init(id.NodeWorker); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
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
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.Stream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Redis.Stream,
		Group:        cfg.Redis.Group,
		Consumer:     cfg.Redis.Consumer,
		DLQStream:    cfg.Redis.DLQStream,
		BatchSize:    cfg.Sync.WorkerReadBatchSize,
		Block:        cfg.Sync.WorkerReadBlock,
		MaxAttempts:  cfg.Sync.QueueMaxAttempts,
		RequeueDelay: cfg.Sync.QueueRequeueDelay,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	producer := queue.NewRedisProducer(redisClient, cfg.Redis.Stream, slog.Default())

	services := service.NewServices(
		store.NewStores(database.Conn(), cfg.Sync.StaleAfter),
		service.NewTxRunner(database),
		service.NewGitHubAPIClient(cfg),
		producer,
		cfg,
	)
	syncService := services.Sync()

	w := worker.New(consumer, syncService, worker.Config{
		MaxAttempts: cfg.Sync.QueueMaxAttempts,
		BatchSize:   cfg.Sync.BatchSize,
	})

	reclaimer := worker.NewReclaimer(consumer, worker.ReclaimerConfig{
		Claimant:      cfg.Redis.Consumer + "-reclaimer",
		MinIdle:       cfg.Sync.ReclaimMinIdle,
		Interval:      cfg.Sync.ReclaimInterval,
		BatchSize:     cfg.Sync.ReclaimBatchSize,
		MaxDeliveries: int64(cfg.Sync.QueueMaxAttempts),
	}, w.Handle)

	var scheduler *worker.Scheduler
	if cfg.Sync.ScheduleInterval > 0 {
		scheduler = worker.NewScheduler(syncService, cfg.Sync.ScheduleInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go reclaimer.Run(ctx)
	if scheduler != nil {
		go scheduler.Run(ctx)
	}

	slog.InfoContext(ctx, "worker initialized and running", "schedule_interval", cfg.Sync.ScheduleInterval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
	}
	reclaimer.Stop()

	// A running sync finishes its current page loop unless the timeout hits.
	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded, cancelling running sync")
		cancel()
		<-stopped
	case <-stopped:
	}

	select {
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	default:
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
        __                          
  ____ / /_  _______  ______  _____ 
 / __ '/ __ \/ ___/ / / / __ \/ ___/
/ /_/ / / / (__  ) /_/ / / / / /__  
\__, /_/ /_/____/\__, /_/ /_/\___/  
/____/          /____/   worker
`
