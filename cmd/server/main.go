// Package main provides the pipeline trigger API server.
//
// The server exposes authenticated endpoints to start a pipeline run and to
// inspect run status. Runs execute in a separate pipeline process launched
// by the trigger handler, so an hour-long run never ties up an HTTP worker.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/AteetVatan/masx-geosignal/internal/api"
	"github.com/AteetVatan/masx-geosignal/internal/api/middleware"
	"github.com/AteetVatan/masx-geosignal/internal/config"
	"github.com/AteetVatan/masx-geosignal/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "geosignal-server"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting trigger API service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Load rate limiter configuration
	middlewareConfig := middleware.LoadConfig()

	// Create rate limiter instance (graceful shutdown handled by server.shutdown())
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
	)

	authConfig := middleware.LoadAuthConfig()
	if !authConfig.Enabled() {
		logger.Warn("No API key configured",
			slog.String("security", "Protected endpoints will reject all requests"),
			slog.String("note", "Set PIPELINE_API_KEY or PIPELINE_API_KEY_HASH"),
		)
	}

	// Load storage configuration
	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	runStore, err := storage.NewRunStore(dbConn)
	if err != nil {
		logger.Error("Failed to create run store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	logger.Info("Run store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	launcher := &api.ExecLauncher{
		Command: config.GetEnvStr("PIPELINE_BINARY", "pipeline"),
		Logger:  logger,
	}

	server := api.NewServer(serverConfig, api.Dependencies{
		Runs:        runStore,
		Health:      dbConn,
		Launcher:    launcher,
		Auth:        authConfig,
		RateLimiter: rateLimiter,
	})

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Trigger API service stopped")
}
