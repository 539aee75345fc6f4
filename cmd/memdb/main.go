package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/devrev/memdb/internal/config"
	"github.com/devrev/memdb/internal/handler"
	"github.com/devrev/memdb/internal/health"
	"github.com/devrev/memdb/internal/metrics"
	"github.com/devrev/memdb/internal/server"
	"github.com/devrev/memdb/internal/service"
	"github.com/devrev/memdb/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Duration("flush_interval", cfg.Engine.FlushInterval),
		zap.Duration("evict_interval", cfg.Engine.EvictInterval))

	ctx := context.Background()

	// Open the store
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}

	// Initialize engine
	m := metrics.New(cfg.Server.NodeID)
	engine := service.NewEngine(
		&service.EngineConfig{
			FlushInterval: cfg.Engine.FlushInterval,
			EvictInterval: cfg.Engine.EvictInterval,
			FlushWorkers:  cfg.Engine.FlushWorkers,
		},
		st,
		m,
		logger,
	)

	if err := engine.Start(ctx); err != nil {
		logger.Fatal("Failed to start engine", zap.Error(err))
	}

	// Health checker backing the readiness endpoint
	checker := health.NewChecker(st, engine.Stats, logger)
	healthCtx, healthCancel := context.WithCancel(ctx)
	go checker.Start(healthCtx)

	// Metrics server
	var metricsSrv *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsSrv = server.NewMetricsServer(
			&server.MetricsServerConfig{Port: cfg.Metrics.Port, Path: cfg.Metrics.Path},
			checker,
			logger,
		)
		metricsSrv.Start()
	}

	// HTTP API server
	mux := http.NewServeMux()
	handler.NewAPIHandler(engine, logger).Register(mux)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("API server starting", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
	healthCancel()

	// Final flush of every dirty record happens inside Stop
	residual, err := engine.Stop(shutdownCtx)
	if err != nil {
		logger.Error("Final flush incomplete", zap.Int("residual_dirty", residual), zap.Error(err))
	}

	if metricsSrv != nil {
		if err := metricsSrv.Stop(); err != nil {
			logger.Error("Metrics server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
}

// openStore builds the configured store adapter
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLiteStore(ctx, &store.SQLiteConfig{
			Path:           cfg.Store.DSN,
			MaxConnections: cfg.Store.MaxConnections,
			OpTimeout:      cfg.Store.OpTimeout,
		}, logger)
	default:
		return store.NewPostgresStore(ctx, &store.PostgresConfig{
			DSN:            cfg.Store.DSN,
			MaxConnections: cfg.Store.MaxConnections,
			OpTimeout:      cfg.Store.OpTimeout,
		}, logger)
	}
}

// initLogger initializes the zap logger
func initLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
