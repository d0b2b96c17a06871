// Package main is the entry point for the audit trail server binary.
// It dispatches three subcommands (serve, migrate and version) via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place.
// The serve command runs auto-migration on startup when database.auto_migrate
// is set, so freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/academy-hub/audit-trail/internal/api"
	"github.com/academy-hub/audit-trail/internal/audit"
	"github.com/academy-hub/audit-trail/internal/auth"
	"github.com/academy-hub/audit-trail/internal/cache"
	"github.com/academy-hub/audit-trail/internal/config"
	"github.com/academy-hub/audit-trail/internal/db"
	"github.com/academy-hub/audit-trail/internal/db/repositories"
	"github.com/academy-hub/audit-trail/internal/middleware"
	"github.com/academy-hub/audit-trail/internal/storage"
	"github.com/academy-hub/audit-trail/internal/telemetry"

	// Archive backends register themselves with the storage factory
	_ "github.com/academy-hub/audit-trail/internal/storage/azure"
	_ "github.com/academy-hub/audit-trail/internal/storage/gcs"
	_ "github.com/academy-hub/audit-trail/internal/storage/local"
	_ "github.com/academy-hub/audit-trail/internal/storage/s3"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("Academy audit trail v%s\n", api.Version)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg, configPath)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config, configPath string) error {
	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Only the log level is applied live; every other setting needs a restart
	if err := config.Watch(configPath, func(next *config.Config) {
		telemetry.SetLevel(next.Logging.Level)
	}); err != nil {
		slog.Warn("config watch disabled", "error", err)
	}

	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	var err error
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := func(context.Context) error { return nil }
	if cfg.Telemetry.Tracing.Enabled {
		shutdownTracing, err = telemetry.InitTracing(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Tracing)
		if err != nil {
			return fmt.Errorf("failed to initialise tracing: %w", err)
		}
		slog.Info("tracing enabled", "exporter", cfg.Telemetry.Tracing.Exporter, "endpoint", cfg.Telemetry.Tracing.Endpoint)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "user", cfg.Database.User, "sslmode", cfg.Database.SSLMode)
	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	telemetry.StartDBStatsCollector(ctx, database.DB)

	if cfg.Database.AutoMigrate {
		slog.Info("running database migrations")
		if err := db.RunMigrations(database.DB, "up"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	if version, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	deps := api.Dependencies{DB: database}

	if cfg.Redis.Enabled() {
		rdb, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()

		profileCache := cache.NewProfileCache(rdb, repositories.NewProfileRepository(database), cfg.Redis.ProfileTTL)
		if cfg.Redis.ProfileChannel != "" {
			if err := profileCache.ListenForChanges(ctx, rdb, cfg.Redis.ProfileChannel); err != nil {
				return fmt.Errorf("failed to listen for profile changes: %w", err)
			}
		}
		deps.Profiles = profileCache
		if cfg.Security.RateLimiting.Enabled {
			deps.Limiter = middleware.NewRedisRateLimiter(redis_rate.NewLimiter(rdb), middleware.RateLimitConfigFrom(cfg.Security.RateLimiting))
		}
		slog.Info("redis enabled", "addr", cfg.Redis.Addr, "profile_ttl", cfg.Redis.ProfileTTL, "profile_channel", cfg.Redis.ProfileChannel)
	}

	shippers, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return fmt.Errorf("failed to configure audit shippers: %w", err)
	}
	defer shippers.Close()
	if shippers.Len() > 0 {
		deps.Shipper = shippers
		slog.Info("audit shipping enabled", "shippers", shippers.Len())
	}

	if cfg.Archive.Enabled {
		deps.Archive, err = storage.NewStorage(&cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to initialise archive backend: %w", err)
		}
	}

	// Prometheus metrics live on a dedicated port so the scrape path is not
	// reachable through the public API ingress.
	var metricsServer *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("starting Prometheus metrics server", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router, bgServices := api.NewRouter(cfg, deps)

	var handler http.Handler = router
	if cfg.Telemetry.Tracing.Enabled {
		handler = middleware.Tracing(router)
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	bgServices.Shutdown()

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("failed to flush traces", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(context.Background(), &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)

	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", version, dirty)
	return nil
}
