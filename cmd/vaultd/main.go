// cmd/vaultd/main.go
// Package main implements the entry point for the vault service.
// It wires storage, the cache gateway, the sync reconciler, and the HTTP
// server, and handles graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/cache"
	"github.com/fishnetapp/fishnet-vault-go/internal/classify"
	"github.com/fishnetapp/fishnet-vault-go/internal/config"
	"github.com/fishnetapp/fishnet-vault-go/internal/event"
	"github.com/fishnetapp/fishnet-vault-go/internal/jwks"
	"github.com/fishnetapp/fishnet-vault-go/internal/media"
	"github.com/fishnetapp/fishnet-vault-go/internal/model"
	"github.com/fishnetapp/fishnet-vault-go/internal/schema"
	"github.com/fishnetapp/fishnet-vault-go/internal/server"
	"github.com/fishnetapp/fishnet-vault-go/internal/status"
	"github.com/fishnetapp/fishnet-vault-go/internal/storage"
	"github.com/fishnetapp/fishnet-vault-go/internal/syncer"
	"github.com/fishnetapp/fishnet-vault-go/internal/telemetry"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	stopTracer, err := telemetry.Init("fishnet-vault", cfg.Env)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopTracer(ctx)
	}()

	// Storage opens fail-open: no DSN or a broken database still yields a
	// working in-memory vault.
	store := storage.Open(cfg.DatabaseDSN)
	defer store.Close()

	// Initialize event publisher (NATS JetStream or no-op)
	pub := event.NewPublisherFromEnv()
	defer pub.Close()

	// Cache bucket store: Redis when configured, in-memory otherwise
	var buckets cache.BucketStore
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		buckets, err = cache.NewRedisBuckets(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.DynamicTTL)
		cancel()
		if err != nil {
			logger.Warn("redis bucket store unavailable, using in-memory buckets", "error", err)
			buckets = cache.NewMemoryBuckets()
		}
	} else {
		buckets = cache.NewMemoryBuckets()
	}

	// Cache gateway lifecycle: install must succeed before activation, so
	// a partially cached shell never serves. Until activation the gateway
	// proxies every request uncached.
	var gateway *cache.Gateway
	if cfg.UpstreamURL != "" {
		gateway, err = cache.NewGateway(cfg.UpstreamURL, buckets, cache.Options{
			Version:     cfg.CacheVersion,
			ShellAssets: cfg.ShellAssets,
			ShellEntry:  cfg.ShellEntry,
			Placeholder: cfg.Placeholder,
		})
		if err != nil {
			logger.Error("failed to create cache gateway", "error", err)
			os.Exit(1)
		}

		installCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := gateway.Install(installCtx); err != nil {
			logger.Warn("shell install failed, gateway proxying uncached until activated", "error", err)
		} else if err := gateway.Activate(installCtx); err != nil {
			logger.Error("cache gateway activation failed", "error", err)
			cancel()
			os.Exit(1)
		}
		cancel()
	}

	// Photo offload uploader, only when object storage is configured
	var uploader *media.Uploader
	if cfg.S3Endpoint != "" && cfg.S3Bucket != "" {
		uploader, err = media.NewUploader(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			logger.Warn("photo offload unavailable", "error", err)
			uploader = nil
		}
	}

	// Species classifier: remote service or the deterministic stub
	var classifier classify.Classifier
	if cfg.ClassifierURL != "" {
		classifier = classify.New(cfg.ClassifierURL)
	} else {
		classifier = classify.NewStub()
	}

	// Payload schemas
	validator, err := schema.NewValidator()
	if err != nil {
		logger.Error("failed to initialize schema validator", "error", err)
		os.Exit(1)
	}

	// Sync machinery: status broadcast, post queue, simulated remote,
	// and the reconciler tying them together.
	bus := status.NewBroadcaster(model.SyncStatus{})
	defer bus.Close()

	posts := syncer.NewPostQueue()
	remote := syncer.NewSimulatedRemote(cfg.SyncFailureRate, cfg.SyncMinDelay, cfg.SyncMaxDelay)
	reconciler := syncer.New(store, posts, remote, bus, pub, uploader, syncer.Options{
		Debounce:  cfg.SyncDebounce,
		PollEvery: cfg.SyncPollEvery,
	})
	if err := reconciler.Start(context.Background()); err != nil {
		logger.Error("failed to start sync reconciler", "error", err)
		os.Exit(1)
	}
	defer reconciler.Stop()

	// JWKS client, only when JWT auth is configured
	var jwksClient *jwks.Client
	if cfg.JWTIssuer != "" {
		jwksClient = jwks.NewClient(fmt.Sprintf("%s/.well-known/jwks.json", cfg.JWTIssuer))
	}

	opts := server.Options{
		Store:              store,
		Posts:              posts,
		Reconciler:         reconciler,
		Bus:                bus,
		Classifier:         classifier,
		Validator:          validator,
		JWKSClient:         jwksClient,
		JWTIssuer:          cfg.JWTIssuer,
		JWTAudience:        cfg.JWTAudience,
		MaxImageSize:       cfg.MaxImageSize,
		AllowedImageTypes:  cfg.AllowedImageTypes,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if gateway != nil {
		opts.Commander = cache.NewCommander(gateway)
		opts.Gateway = gateway
	}
	mux := server.NewMux(opts)

	// Create HTTP server with timeout configuration.
	// No WriteTimeout: /v1/sync/watch holds a stream open indefinitely.
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in a separate goroutine
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Handle graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}
