package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"basegraph.app/ghsync/common/id"
	"basegraph.app/ghsync/common/logger"
	"basegraph.app/ghsync/core/config"
	"basegraph.app/ghsync/core/db"
	"basegraph.app/ghsync/internal/cli"
	"basegraph.app/ghsync/internal/queue"
	"basegraph.app/ghsync/internal/service"
	"basegraph.app/ghsync/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(loadEnv).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func loadEnv(ctx context.Context) (*cli.Env, func(), error) {
	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger.Setup(cfg)

	if err := id.Init(id.NodeCLI); err != nil {
		return nil, nil, fmt.Errorf("initializing id generator: %w", err)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	// go-redis connects lazily, so only --enqueue needs a reachable server.
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}
	producer := queue.NewRedisProducer(redis.NewClient(redisOpts), cfg.Redis.Stream, slog.Default())

	services := service.NewServices(
		store.NewStores(database.Conn(), cfg.Sync.StaleAfter),
		service.NewTxRunner(database),
		service.NewGitHubAPIClient(cfg),
		producer,
		cfg,
	)

	cleanup := func() {
		_ = producer.Close()
		database.Close()
	}

	return &cli.Env{
		Sync:    services.Sync(),
		Migrate: database.Migrate,
	}, cleanup, nil
}
