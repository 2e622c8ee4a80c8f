// Command glbatch-server runs the batch engine behind an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/forgeops/glbatch/internal/api"
	"github.com/forgeops/glbatch/pkg/batch"
	"github.com/forgeops/glbatch/pkg/client"
	"github.com/forgeops/glbatch/pkg/config"
	"github.com/forgeops/glbatch/pkg/logging"
	"github.com/forgeops/glbatch/pkg/pagination"
	"github.com/forgeops/glbatch/pkg/ratelimit"
	"github.com/forgeops/glbatch/pkg/resolve"
	"github.com/forgeops/glbatch/pkg/store"
	"github.com/forgeops/glbatch/pkg/store/postgres"
	"github.com/forgeops/glbatch/pkg/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	}).With().Str("component", "server").Logger()

	// Job store
	var jobStore batch.Store
	switch cfg.StorageType {
	case "postgres":
		jobStore, err = postgres.New(cfg.PostgresURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize PostgreSQL store")
		}
	case "memory":
		jobStore = store.NewMemoryStore()
	default:
		jobStore, err = sqlite.New(cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize SQLite store")
		}
	}
	defer jobStore.Close()

	// Rate limiter, optionally sharing state via Redis
	limiterOpts := ratelimit.Options{MinSpacing: cfg.MinRequestSpacing}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to parse Redis URL")
		}
		limiterOpts.Store = ratelimit.NewRedisStore(redis.NewClient(redisOpts))
		logger.Info().Msg("sharing rate limit state via Redis")
	}
	limiter := ratelimit.NewLimiter(limiterOpts, logging.NewLogger("rate-limiter"))

	// Forge client
	clientCfg := client.DefaultConfig(cfg.ForgeBaseURL, cfg.ForgeToken)
	clientCfg.Limiter = limiter
	clientCfg.Retry.MaxAttempts = cfg.MaxAttempts
	forgeClient, err := client.New(clientCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create forge client")
	}

	// Engine
	fetcher := pagination.NewFetcher(forgeClient, pagination.DefaultConfig())
	resolver := resolve.NewResolver(forgeClient, fetcher)
	orchestrator := batch.NewOrchestrator(forgeClient, resolver, jobStore)

	// HTTP API
	handler := api.NewHandler(orchestrator, jobStore, cfg.Concurrency)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	logger.Info().
		Str("addr", addr).
		Str("storage", cfg.StorageType).
		Str("forge", cfg.ForgeBaseURL).
		Msg("starting API server")

	if err := router.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
