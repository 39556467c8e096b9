// Package main provides the entry point for the authorization server
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pbac-engine/go-core/internal/audit"
	"github.com/pbac-engine/go-core/internal/bootstrap"
	"github.com/pbac-engine/go-core/internal/cache"
	"github.com/pbac-engine/go-core/internal/config"
	"github.com/pbac-engine/go-core/internal/engine"
	"github.com/pbac-engine/go-core/internal/metrics"
	"github.com/pbac-engine/go-core/internal/server"
	"github.com/pbac-engine/go-core/internal/service"
	"github.com/pbac-engine/go-core/internal/store"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pbac-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting authorization server",
		zap.String("version", Version),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("cache", cfg.CacheBackend),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	policies, roles, assignments, cleanup, err := buildStores(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// Evaluation cache
	decisionCache, err := buildCache(cfg, logger)
	if err != nil {
		return err
	}

	// Audit trail
	auditLogger, err := audit.NewLogger(audit.Config{
		Enabled:     cfg.AuditEnabled,
		Type:        cfg.AuditOutput,
		FilePath:    cfg.AuditFilePath,
		FileMaxSize: cfg.AuditFileSizeMB,
	})
	if err != nil {
		return err
	}

	m := metrics.New("pbac")

	authz := service.New(service.Config{
		Engine: engine.Config{ParallelWorkers: cfg.Workers},
	}, policies, roles, assignments, decisionCache, auditLogger, m, logger)
	defer authz.Close()

	if _, err := authz.EnsureDefaultRole(ctx); err != nil {
		return fmt.Errorf("ensure default role: %w", err)
	}

	// Seed data
	if cfg.SeedDir != "" {
		loader := bootstrap.NewLoader(authz, logger)
		if err := loader.ApplyAll(ctx, cfg.SeedDir); err != nil {
			return fmt.Errorf("apply seed data: %w", err)
		}
		if cfg.SeedWatch {
			watcher, err := bootstrap.NewWatcher(cfg.SeedDir, loader, logger)
			if err != nil {
				return err
			}
			if err := watcher.Watch(ctx); err != nil {
				return err
			}
			defer watcher.Stop()
		}
	}

	// Expired assignment sweeper
	go sweepLoop(ctx, authz, cfg.SweepInterval, logger)

	// HTTP server
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      server.New(authz, m, logger).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.HTTPPort))
		errChan <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if err != http.ErrServerClosed {
			return err
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown incomplete", zap.Error(err))
		}
	}

	return nil
}

// buildStores wires the configured persistence backend; all three
// store interfaces share one backend value
func buildStores(cfg *config.Config, logger *zap.Logger) (store.PolicyStore, store.RoleStore, store.AssignmentStore, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, nil, nil, fmt.Errorf("ping database: %w", err)
		}
		if cfg.AutoMigrate {
			if err := store.Migrate(db); err != nil {
				db.Close()
				return nil, nil, nil, nil, fmt.Errorf("migrate database: %w", err)
			}
			logger.Info("Database migrations applied")
		}
		ps, err := store.NewPostgresStore(db, nil)
		if err != nil {
			db.Close()
			return nil, nil, nil, nil, err
		}
		return ps, ps, ps, func() { db.Close() }, nil

	default:
		ms := store.NewMemoryStore(nil)
		return ms, ms, ms, func() {}, nil
	}
}

// buildCache wires the configured evaluation cache, or none
func buildCache(cfg *config.Config, logger *zap.Logger) (cache.DecisionCache, error) {
	switch cfg.CacheBackend {
	case "off":
		logger.Warn("Evaluation cache disabled; every check hits the stores")
		return nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return cache.NewRedisCache(client, cfg.RedisPrefix, cfg.CacheTTL)
	default:
		return cache.NewLRU(cfg.CacheSize, cfg.CacheTTL), nil
	}
}

// sweepLoop periodically drops expired assignments so the stores do
// not accumulate dead grants
func sweepLoop(ctx context.Context, authz *service.Authorizer, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := authz.SweepExpiredAssignments(ctx)
			if err != nil {
				logger.Warn("Assignment sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("Swept expired assignments", zap.Int("count", n))
			}
		}
	}
}

// initLogger initializes the zap logger
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}
