package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jlwj22/route-data-pipeline/internal/calculator"
	"github.com/jlwj22/route-data-pipeline/internal/cleaner"
	"github.com/jlwj22/route-data-pipeline/internal/collector"
	"github.com/jlwj22/route-data-pipeline/internal/config"
	"github.com/jlwj22/route-data-pipeline/internal/database"
	"github.com/jlwj22/route-data-pipeline/internal/geo"
	"github.com/jlwj22/route-data-pipeline/internal/handlers"
	"github.com/jlwj22/route-data-pipeline/internal/metrics"
	"github.com/jlwj22/route-data-pipeline/internal/pipeline"
	"github.com/jlwj22/route-data-pipeline/internal/transformer"
	"github.com/jlwj22/route-data-pipeline/internal/validation"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting route data pipeline",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	db, err := database.Connect(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}

	m := metrics.New()
	repository := database.NewRepository(db, logger)

	manager := collector.NewManager(cfg.Manager, validation.NewRouteValidator(logger), m, logger)
	if err := registerCollectors(manager, cfg.Collectors, logger); err != nil {
		logger.Fatal("Failed to register collectors", zap.Error(err))
	}
	m.ActiveCollectors.Set(float64(len(manager.Collectors())))

	geoProcessor := geo.New(cfg.Geo, logger)
	calc := calculator.New(cfg.Rates, logger)

	p := pipeline.New(
		cfg.Pipeline,
		transformer.New(cleaner.New(logger), logger),
		geoProcessor,
		calc,
		repository,
		m,
		logger,
	)

	server := handlers.New(manager, p, repository, calc, geoProcessor, logger)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

// registerCollectors builds every configured data source and registers it
// with the manager.
func registerCollectors(manager *collector.Manager, cfg config.CollectorsConfig, logger *zap.Logger) error {
	for _, api := range cfg.APIs {
		if err := manager.Register(collector.NewAPICollector(api, logger)); err != nil {
			return fmt.Errorf("api collector %q: %w", api.Name, err)
		}
	}
	for _, file := range cfg.Files {
		if err := manager.Register(collector.NewFileCollector(file, logger)); err != nil {
			return fmt.Errorf("file collector %q: %w", file.Name, err)
		}
	}
	for _, email := range cfg.Emails {
		if err := manager.Register(collector.NewEmailCollector(email, logger)); err != nil {
			return fmt.Errorf("email collector %q: %w", email.Name, err)
		}
	}
	for _, manual := range cfg.Manual {
		if err := manager.Register(collector.NewManualCollector(manual, logger)); err != nil {
			return fmt.Errorf("manual collector %q: %w", manual.Name, err)
		}
	}
	return nil
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
