package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/walletforge/walletforge/service/config"
	"github.com/walletforge/walletforge/service/events"
	"github.com/walletforge/walletforge/service/gateway"
	"github.com/walletforge/walletforge/service/metrics"
	"github.com/walletforge/walletforge/service/server"
	"github.com/walletforge/walletforge/service/syncer"
	"github.com/walletforge/walletforge/service/tokenjob"
	"github.com/walletforge/walletforge/service/trending"
	"github.com/walletforge/walletforge/service/wallet"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	m := metrics.NewMetrics(nil)

	// Initialize the RPC gateway with rate limiting and retry
	rpcClient := gateway.NewRPCClient(cfg.SolanaRPCURL)
	gw := gateway.New(rpcClient, cfg.SolanaRPCURL, gateway.Options{
		MaxAttempts: cfg.RPCMaxAttempts,
		BackoffBase: cfg.RPCBackoffBase,
		BackoffMax:  cfg.RPCBackoffMax,
		RateLimit:   rate.Limit(cfg.RPCRateLimit),
		Burst:       cfg.RPCBurst,
		CallTimeout: cfg.RPCCallTimeout,
	}, m, logger)
	logger.Info("initialized solana RPC gateway", "url", cfg.SolanaRPCURL)

	// Optional NATS event publishing
	var publisher events.Publisher
	if cfg.NATSURL != "" {
		p, err := events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer p.Close()
		publisher = p
	} else {
		logger.Warn("NATS_URL not set, event publishing disabled")
	}

	registry := wallet.NewRegistry(cfg.HistoryLimit, logger)
	synchronizer := syncer.New(registry, gw, publisher, cfg.HistoryLimit, m, logger)
	orchestrator := tokenjob.New(registry, gw, publisher, tokenjob.Options{
		MaxStepAttempts:      cfg.TokenJobMaxAttempts,
		StepBackoffBase:      cfg.RPCBackoffBase,
		StepBackoffMax:       cfg.RPCBackoffMax,
		AirdropFloorLamports: cfg.AirdropFloorLamports,
		AirdropLamports:      cfg.AirdropLamports,
	}, m, logger)
	trendingCache := trending.NewCache(gw, trending.Options{
		TTL:     cfg.TrendingTTL,
		Samples: uint(cfg.TrendingSamples),
		Limit:   cfg.TrendingLimit,
	}, m, logger)

	httpServer := server.New(cfg.ServerAddr, cfg, registry, synchronizer, orchestrator, trendingCache, gw, m, logger)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
