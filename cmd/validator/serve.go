package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/luissimon96/migration-validator/pkg/api"
	"github.com/luissimon96/migration-validator/pkg/behavioral"
	"github.com/luissimon96/migration-validator/pkg/cache"
	"github.com/luissimon96/migration-validator/pkg/cleanup"
	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/database"
	"github.com/luissimon96/migration-validator/pkg/events"
	"github.com/luissimon96/migration-validator/pkg/llm"
	"github.com/luissimon96/migration-validator/pkg/metrics"
	"github.com/luissimon96/migration-validator/pkg/pipeline"
	"github.com/luissimon96/migration-validator/pkg/queue"
	"github.com/luissimon96/migration-validator/pkg/services"
	"github.com/luissimon96/migration-validator/pkg/session"
)

func newServeCmd() *cobra.Command {
	var (
		host      string
		port      int
		configDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the validation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), host, port, configDir)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&configDir, "config-dir", envOrDefault("CONFIG_DIR", "./config"), "configuration directory")
	return cmd
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runServe(ctx context.Context, host string, port int, configDir string) error {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Info("No .env file loaded, using existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("initializing configuration: %w", err)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	metrics.Init()
	defer metrics.Shutdown()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("loading database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL, schema migrated")

	// Cache backend: Redis when configured, in-process otherwise.
	var backend cache.Backend
	if cfg.Cache.RedisURL != "" {
		backend, err = cache.NewRedisBackend(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		slog.Info("Using Redis cache backend")
	} else {
		backend = cache.NewMemoryBackend()
		slog.Info("Using in-memory cache backend")
	}
	store := cache.NewStore(backend, cache.Options{
		LLMTTL:      cfg.Cache.LLMTTL,
		AnalysisTTL: cfg.Cache.AnalysisTTL,
	})
	defer func() { _ = store.Close() }()

	budget := llm.NewBudgetTracker(*cfg.Budget)
	dispatcher, err := llm.NewDispatcher(cfg.LLM, store, budget)
	if err != nil {
		return fmt.Errorf("building llm dispatcher: %w", err)
	}

	sessionService := services.NewSessionService(dbClient.DB())
	resultService := services.NewResultService(dbClient.DB())
	behavioralService := services.NewBehavioralResultService(dbClient.DB())
	logService := services.NewLogService(dbClient.DB())

	broker := events.NewBroker()
	manager := session.NewManager(sessionService, logService, broker)

	// The prober is optional: without a local browser the behavioral
	// stage reports a stage error instead of refusing startup.
	var prober behavioral.Prober
	if rodProber, err := behavioral.NewRodProber(cfg.Behavioral.Headless); err != nil {
		slog.Warn("Behavioral prober unavailable", "error", err)
	} else {
		prober = rodProber
		defer func() { _ = rodProber.Close() }()
	}

	executor := pipeline.NewExecutor(dispatcher, store, prober, manager,
		resultService, behavioralService, budget, cfg.Limits, cfg.Behavioral)

	nodeID := envOrDefault("NODE_ID", "node-"+uuid.NewString()[:8])
	pool := queue.NewWorkerPool(nodeID, cfg.Scheduler, sessionService, manager, executor)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}
	defer pool.Stop()

	scheduler := queue.NewScheduler(cfg.Scheduler, sessionService, manager)

	retention := cleanup.NewService(cfg.Retention, sessionService)
	retention.Start(ctx)
	defer retention.Stop()

	server := api.NewServer(cfg, dbClient, scheduler, pool, sessionService,
		resultService, logService, broker)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- server.Start(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	return nil
}
