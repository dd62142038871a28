package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-chat/backend/internal/grpc"
	"marketplace-chat/backend/pkg/config"
	"marketplace-chat/backend/pkg/di"
	"marketplace-chat/backend/pkg/logger"
	"marketplace-chat/backend/pkg/router"
	"marketplace-chat/backend/pkg/secrets"
	"marketplace-chat/backend/shared/observability"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.New()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting chat server", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Secrets come from Vault when enabled, the environment otherwise
	vaultManager, err := secrets.NewVaultManager(secrets.VaultConfig{
		Enabled: cfg.Vault.Enabled,
		Address: cfg.Vault.Address,
		Token:   cfg.Vault.Token,
		Path:    cfg.Vault.Path,
	}, log)
	if err != nil {
		log.LogError(err, "Failed to initialize secrets manager")
		os.Exit(1)
	}
	jwtSecret := vaultManager.GetSecretWithDefault(ctx, secrets.KeyJWTSecret, cfg.JWT.Secret)

	var shutdowns []observability.ShutdownFunc
	if cfg.Observability.TracingEnabled {
		shutdown, err := observability.SetupTracing(cfg.Observability.ServiceName, os.Stdout)
		if err != nil {
			log.LogError(err, "Failed to set up tracing")
		} else {
			shutdowns = append(shutdowns, shutdown)
		}
	}
	if shutdown, err := observability.SetupMetrics(cfg.Observability.ServiceName); err != nil {
		log.LogError(err, "Failed to set up metrics")
	} else {
		shutdowns = append(shutdowns, shutdown)
	}

	// Initialize dependency injection container
	container, err := di.New(ctx, cfg, log, di.Options{JWTSecret: jwtSecret})
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	container.Start(ctx)

	// Initialize and setup router
	r := router.New(container)
	r.SetupRoutes()
	go r.RateLimiter().Run(ctx)

	var grpcServer *grpc.Server
	if cfg.GRPC.Enabled {
		grpcServer = grpc.NewServer(container.Health, log)
		go func() {
			log.Info("gRPC health server starting", "port", cfg.GRPC.Port)
			if err := grpcServer.ListenAndServe(cfg.GRPC.Port); err != nil {
				log.LogError(err, "gRPC server stopped")
			}
		}()
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	// Start the server in a goroutine
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	// Block until we receive a signal
	<-ctx.Done()
	log.Info("Shutting down server...")

	// Create a deadline to wait for
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; the hub
	// loses them when the process exits and clients reconnect elsewhere.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	if err := container.Close(shutdownCtx); err != nil {
		log.LogError(err, "Failed to close connections")
	}
	for _, shutdown := range shutdowns {
		if err := shutdown(shutdownCtx); err != nil {
			log.LogError(err, "Failed to flush telemetry")
		}
	}

	log.Info("Server exited gracefully")
}
