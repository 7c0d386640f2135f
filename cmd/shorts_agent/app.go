package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jonathan/shorts-agent/internal/cache"
	"github.com/jonathan/shorts-agent/internal/config"
	"github.com/jonathan/shorts-agent/internal/cooldown"
	"github.com/jonathan/shorts-agent/internal/extraction"
	"github.com/jonathan/shorts-agent/internal/language"
	"github.com/jonathan/shorts-agent/internal/llm"
	"github.com/jonathan/shorts-agent/internal/pipeline"
	"github.com/jonathan/shorts-agent/internal/planner"
	"github.com/jonathan/shorts-agent/internal/types"
)

// app holds the long-lived components shared by the serve and run commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	catalog   *extraction.Catalog
	cooldowns *cooldown.Store
	cache     *cache.Tiered
	redis     *redis.Client
	llm       llm.Client
	runner    *pipeline.Runner
}

// loadCatalog reads the configured catalog and disables the listed strategies.
func loadCatalog(cfg *config.Config) (*extraction.Catalog, error) {
	catalog, err := extraction.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	if len(cfg.DisabledStrategies) == 0 {
		return catalog, nil
	}
	return catalog.WithDisabled(cfg.DisabledStrategies...)
}

// credentials returns the cookie store for authenticated strategies.
func credentials(cfg *config.Config) extraction.CredentialStore {
	if cfg.CookiesPath == "" {
		return extraction.StaticCredentials{Reason: "no cookies file configured"}
	}
	return extraction.NewFileCredentialStore(cfg.CookiesPath, cfg.CookiesMaxAge.D())
}

// profilerConfig applies the configured language pair to the default signals.
func profilerConfig(cfg *config.Config) language.Config {
	lc := language.DefaultConfig()
	lc.Majority = cfg.MajorityLanguage
	lc.Minority = cfg.MinorityLanguage
	return lc
}

// buildApp wires the pipeline from configuration.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable or gemini_api_key config is required")
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		catalog:   catalog,
		cooldowns: cooldown.NewStore(cfg.CooldownConfig()),
	}

	orchestrator := extraction.New(extraction.Options{
		Catalog: catalog,
		Executor: extraction.Executors{
			types.ToolYTDLP:     extraction.NewYTDLP(cfg.YTDLPPath),
			types.ToolWatchPage: extraction.NewWatchPage(logger),
		},
		Store:          a.cooldowns,
		Global:         cooldown.NewGlobal(),
		Credentials:    credentials(cfg),
		Profiler:       language.NewProfiler(profilerConfig(cfg)),
		GlobalCooldown: cfg.GlobalCooldown.D(),
		ProbeTimeout:   cfg.ProbeTimeout.D(),
		Logger:         logger,
	})

	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("transcript cache running without redis", slog.Any("error", err))
		} else {
			a.redis = rdb
		}
	}
	a.cache = cache.New(cache.Options{
		TTL:    cfg.TranscriptCacheTTL.D(),
		Redis:  a.redis,
		Logger: logger,
	})

	a.llm, err = llm.NewClient(ctx, llm.DefaultConfig(), cfg.GeminiAPIKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	p := planner.New(planner.Options{
		Client: a.llm,
		Config: cfg.PlannerConfig(),
		Logger: logger,
	})

	a.runner, err = pipeline.NewRunner(pipeline.Options{
		Acquirer: orchestrator,
		Planner:  p,
		Metadata: extraction.NewOEmbedResolver(),
		Cache:    a.cache,
		Logger:   logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the model client and the redis connection.
func (a *app) Close() {
	if a.llm != nil {
		if err := a.llm.Close(); err != nil {
			a.logger.Warn("failed to close LLM client", slog.Any("error", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", slog.Any("error", err))
		}
	}
}
