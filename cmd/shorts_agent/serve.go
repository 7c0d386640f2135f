package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/shorts-agent/internal/config"
	"github.com/jonathan/shorts-agent/internal/cooldown"
	"github.com/jonathan/shorts-agent/internal/db"
	"github.com/jonathan/shorts-agent/internal/jobs"
	"github.com/jonathan/shorts-agent/internal/observability"
	"github.com/jonathan/shorts-agent/internal/server"
)

const (
	jobCleanupInterval      = 10 * time.Minute
	cacheCleanupInterval    = 5 * time.Minute
	cooldownCleanupInterval = time.Minute
	shutdownTimeout         = 30 * time.Second
)

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that accepts POST /acquire-and-segment and serves job status at
GET /job/{jobId}. Jobs are kept in PostgreSQL when DATABASE_URL is set and in memory otherwise.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config, 8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}

	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	store, closeStore, err := openJobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	metrics := observability.NewMetrics()
	coord, err := jobs.New(jobs.Options{
		Runner:        a.runner,
		Store:         store,
		MaxConcurrent: cfg.MaxConcurrentJobs,
		Retention:     cfg.JobRetention.D(),
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Port:        cfg.Port,
		Coordinator: coord,
		Catalog:     a.catalog,
		Metrics:     metrics,
		Cache:       a.cache,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		coord.RunCleanup(gctx, jobCleanupInterval)
		return nil
	})
	g.Go(func() error {
		a.cache.Run(gctx, cacheCleanupInterval)
		return nil
	})
	g.Go(func() error {
		sweepCooldowns(gctx, a.cooldowns, logger)
		return nil
	})
	serveErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs still running at shutdown", slog.Any("error", err))
	}
	return serveErr
}

// openJobStore returns the PostgreSQL store when a database is configured and
// the in-memory store otherwise.
func openJobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (jobs.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("job store: in-memory")
		return jobs.NewMemoryStore(), func() {}, nil
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, nil, err
	}
	logger.Info("job store: postgres")
	return db.NewJobStore(database), database.Close, nil
}

// sweepCooldowns drops expired per-video attempt windows until ctx is done.
func sweepCooldowns(ctx context.Context, store *cooldown.Store, logger *slog.Logger) {
	ticker := time.NewTicker(cooldownCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Cleanup(); n > 0 {
				logger.Debug("cooldown entries expired", slog.Int("count", n), slog.Int("remaining", store.Len()))
			}
		}
	}
}
