// Package bootstrap wires configuration, storage, engines, and the HTTP
// server into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"alertpipe/api"
	"alertpipe/config"
	"alertpipe/enrich"
	"alertpipe/service"
	"alertpipe/storage"
)

// App holds every long-lived component of the service.
type App struct {
	Config    *config.Config
	Logger    *zap.SugaredLogger
	SQLite    *storage.SQLite
	Tracker   enrich.FingerprintTracker
	Evaluator *enrich.ExpressionEvaluator
	Cache     *enrich.ArtifactCache
	Pipeline  *enrich.Pipeline
	Pool      *enrich.WorkerPool
	Rules     *service.RuleService
	Server    *api.Server

	baseLogger *zap.Logger
}

// NewApp builds the full component graph from configuration. Nothing is
// started; call Start.
func NewApp(cfg *config.Config) (*App, error) {
	logger, baseLogger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	sqlite, err := storage.NewSQLite(cfg.SQLitePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
	}

	dedupStore := storage.NewSQLiteDedupRuleStorage(sqlite, logger)
	mappingStore := storage.NewSQLiteMappingRuleStorage(sqlite, logger)
	extractionStore := storage.NewSQLiteExtractionRuleStorage(sqlite, logger)
	blackoutStore := storage.NewSQLiteBlackoutRuleStorage(sqlite, logger)
	statsStore := storage.NewSQLiteStatsStorage(sqlite, logger)

	var tracker enrich.FingerprintTracker
	if cfg.Redis.Enabled {
		rt := storage.NewRedisFingerprintTracker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Pipeline.ObservationWindow, logger)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Ping(pingCtx); err != nil {
			sqlite.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		tracker = rt
	} else {
		tracker = storage.NewMemoryFingerprintTracker(cfg.Pipeline.ObservationWindow)
	}

	evaluator, err := enrich.NewExpressionEvaluator(cfg.Pipeline.ExpressionBudget, logger)
	if err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("failed to build expression evaluator: %w", err)
	}
	cache := enrich.NewArtifactCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)

	dedupEngine := enrich.NewDeduplicationEngine(dedupStore, statsStore, tracker, nil, logger)
	extractionEngine := enrich.NewExtractionRuleEngine(extractionStore, evaluator, cache, cfg.Pipeline.RegexBudget, logger)
	mappingMatcher := enrich.NewMappingRuleMatcher(mappingStore, mappingStore, logger)
	blackoutEval := enrich.NewBlackoutEvaluator(blackoutStore, evaluator, cache, nil, logger)

	pipeline := enrich.NewPipeline(dedupEngine, extractionEngine, mappingMatcher, blackoutEval, logger)
	pool := enrich.NewWorkerPool(context.Background(), cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, pipeline, nil, logger)

	rules := service.NewRuleService(dedupStore, mappingStore, extractionStore, blackoutStore, statsStore, evaluator, cache, logger)
	server := api.NewServer(cfg.Server.ListenAddr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, rules, logger)

	return &App{
		Config:     cfg,
		Logger:     logger,
		SQLite:     sqlite,
		Tracker:    tracker,
		Evaluator:  evaluator,
		Cache:      cache,
		Pipeline:   pipeline,
		Pool:       pool,
		Rules:      rules,
		Server:     server,
		baseLogger: baseLogger,
	}, nil
}

// Start launches the worker pool and the HTTP server. Blocks until the
// server stops.
func (a *App) Start() error {
	a.Pool.Start()
	return a.Server.Start()
}

// Shutdown stops the HTTP server, drains the worker pool, and closes
// storage.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Warnw("HTTP server shutdown error", "error", err)
	}
	a.Pool.Stop()

	if closer, ok := a.Tracker.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Warnw("Fingerprint tracker close error", "error", err)
		}
	}
	if err := a.SQLite.Close(); err != nil {
		a.Logger.Warnw("SQLite close error", "error", err)
	}
	_ = a.baseLogger.Sync()
}

// WaitForShutdown blocks until SIGINT or SIGTERM.
func (a *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	a.Logger.Infow("Shutdown signal received", "signal", sig.String())
}

func buildLogger(level string) (*zap.SugaredLogger, *zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	base, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return base.Sugar(), base, nil
}
