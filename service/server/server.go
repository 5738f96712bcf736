package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/walletforge/walletforge/service/config"
	"github.com/walletforge/walletforge/service/metrics"
	"github.com/walletforge/walletforge/service/syncer"
	"github.com/walletforge/walletforge/service/tokenjob"
	"github.com/walletforge/walletforge/service/trending"
	"github.com/walletforge/walletforge/service/wallet"
)

// Server is the HTTP front of the wallet service.
type Server struct {
	addr         string
	cfg          *config.Config
	registry     *wallet.Registry
	synchronizer *syncer.Synchronizer
	orchestrator *tokenjob.Orchestrator
	trending     *trending.Cache
	airdropper   Airdropper
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The airdropper is optional - if nil, the airdrop endpoint won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, registry *wallet.Registry, synchronizer *syncer.Synchronizer, orchestrator *tokenjob.Orchestrator, trendingCache *trending.Cache, airdropper Airdropper, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		registry:     registry,
		synchronizer: synchronizer,
		orchestrator: orchestrator,
		trending:     trendingCache,
		airdropper:   airdropper,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// instrument wraps a handler with metrics under a constant name.
	instrument := func(name string, h http.Handler) http.Handler {
		if s.metrics == nil {
			return h
		}
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	// Wallet routes
	mux.Handle("POST /api/v1/wallets", instrument("create_wallet", handleCreateWallet(s.registry, s.logger)))
	mux.Handle("GET /api/v1/wallets", instrument("list_wallets", handleListWallets(s.registry, s.logger)))
	mux.Handle("GET /api/v1/wallets/{address}", instrument("get_wallet", handleGetWallet(s.registry, s.logger)))
	mux.Handle("GET /api/v1/wallets/{address}/history", instrument("get_history", handleGetHistory(s.registry, s.logger)))
	mux.Handle("POST /api/v1/wallets/{address}/tokens", instrument("track_mint", handleTrackMint(s.registry, s.logger)))
	mux.Handle("POST /api/v1/wallets/{address}/refresh-balance", instrument("refresh_balance", handleRefreshBalance(s.synchronizer, s.logger)))
	mux.Handle("POST /api/v1/wallets/{address}/refresh-history", instrument("refresh_history", handleRefreshHistory(s.synchronizer, s.logger)))

	if s.airdropper != nil {
		mux.Handle("POST /api/v1/wallets/{address}/airdrop", instrument("airdrop", handleAirdrop(s.registry, s.airdropper, s.logger)))
	} else {
		s.logger.Warn("airdropper not configured, airdrop endpoint disabled")
	}

	// Token creation routes
	mux.Handle("POST /api/v1/tokens", instrument("create_token", handleCreateToken(s.orchestrator, s.logger)))
	mux.Handle("GET /api/v1/jobs", instrument("list_jobs", handleListJobs(s.orchestrator, s.logger)))
	mux.Handle("GET /api/v1/jobs/{job_id}", instrument("get_job", handleGetJob(s.orchestrator, s.logger)))

	// Trending route
	mux.Handle("GET /api/v1/trending", instrument("trending", handleGetTrending(s.trending, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
