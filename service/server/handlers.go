package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/walletforge/walletforge/service/syncer"
	"github.com/walletforge/walletforge/service/tokenjob"
	"github.com/walletforge/walletforge/service/trending"
	"github.com/walletforge/walletforge/service/wallet"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for any request here
	maxNameLength      = 64

	// staleAfter is how old a cached snapshot can be before responses flag
	// it as stale. Reads always serve the cache; staleness is reported, not
	// repaired.
	staleAfter = time.Minute
)

// Airdropper requests devnet airdrops. *gateway.Gateway satisfies it.
type Airdropper interface {
	RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error)
}

// walletResponse is the JSON shape of a wallet snapshot. The private key is
// never serialized.
type walletResponse struct {
	Address         string                 `json:"address"`
	Name            string                 `json:"name,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	BalanceLamports uint64                 `json:"balance_lamports"`
	Tokens          []tokenBalanceResponse `json:"tokens"`
	TrackedMints    []string               `json:"tracked_mints"`
	LastSyncedAt    *time.Time             `json:"last_synced_at,omitempty"`
	Stale           bool                   `json:"stale"`
	History         []transactionResponse  `json:"history,omitempty"`
}

type tokenBalanceResponse struct {
	Mint        string    `json:"mint"`
	Amount      string    `json:"amount"`
	Decimals    uint8     `json:"decimals"`
	UIAmount    float64   `json:"ui_amount"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

type transactionResponse struct {
	Signature      string    `json:"signature"`
	Slot           uint64    `json:"slot"`
	BlockTime      time.Time `json:"block_time"`
	Status         string    `json:"status"`
	Counterparties []string  `json:"counterparties,omitempty"`
	Amount         uint64    `json:"amount"`
	TokenMint      *string   `json:"token_mint,omitempty"`
}

func snapshotToResponse(snap wallet.Snapshot, includeHistory bool) walletResponse {
	resp := walletResponse{
		Address:         snap.PublicKey,
		Name:            snap.Name,
		CreatedAt:       snap.CreatedAt,
		BalanceLamports: snap.BalanceLamports,
		Tokens:          make([]tokenBalanceResponse, 0, len(snap.TokenAccounts)),
		TrackedMints:    snap.TrackedMints,
		Stale:           snap.LastSyncedAt.IsZero() || time.Since(snap.LastSyncedAt) > staleAfter,
	}
	for _, tb := range snap.TokenAccounts {
		resp.Tokens = append(resp.Tokens, tokenBalanceResponse{
			Mint:        tb.Mint,
			Amount:      tb.Amount,
			Decimals:    tb.Decimals,
			UIAmount:    tb.UIAmount,
			RefreshedAt: tb.RefreshedAt,
		})
	}
	if !snap.LastSyncedAt.IsZero() {
		t := snap.LastSyncedAt
		resp.LastSyncedAt = &t
	}
	if includeHistory {
		resp.History = historyToResponse(snap.History)
	}
	return resp
}

func historyToResponse(records []wallet.TransactionRecord) []transactionResponse {
	out := make([]transactionResponse, 0, len(records))
	for _, r := range records {
		out = append(out, transactionResponse{
			Signature:      r.Signature,
			Slot:           r.Slot,
			BlockTime:      r.BlockTime,
			Status:         string(r.Status),
			Counterparties: r.Counterparties,
			Amount:         r.Amount,
			TokenMint:      r.TokenMint,
		})
	}
	return out
}

// handleCreateWallet returns a handler that generates a new custodial wallet.
// POST /api/v1/wallets
func handleCreateWallet(registry *wallet.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		// An empty body is allowed; anything else malformed is not.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.Name) > maxNameLength {
			writeError(w, fmt.Sprintf("name too long: maximum length is %d characters", maxNameLength), http.StatusBadRequest)
			return
		}

		wlt, err := registry.Create(req.Name)
		if err != nil {
			logger.Error("failed to create wallet", "error", err)
			writeError(w, "failed to create wallet", http.StatusInternalServerError)
			return
		}

		logger.Info("wallet created", "address", wlt.Address(), "name", req.Name)
		writeJSON(w, snapshotToResponse(wlt.Snapshot(), false), http.StatusCreated)
	})
}

// handleListWallets returns a handler that lists all cached wallets.
// GET /api/v1/wallets
func handleListWallets(registry *wallet.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallets := registry.List()
		out := make([]walletResponse, 0, len(wallets))
		for _, wlt := range wallets {
			out = append(out, snapshotToResponse(wlt.Snapshot(), false))
		}
		writeJSON(w, map[string]interface{}{
			"wallets": out,
			"count":   len(out),
		}, http.StatusOK)
	})
}

// handleGetWallet returns a handler that serves a wallet's cached snapshot.
// GET /api/v1/wallets/{address}
func handleGetWallet(registry *wallet.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wlt, ok := lookupWallet(w, r, registry, logger)
		if !ok {
			return
		}
		writeJSON(w, snapshotToResponse(wlt.Snapshot(), true), http.StatusOK)
	})
}

// handleGetHistory returns a handler that serves a wallet's cached history.
// GET /api/v1/wallets/{address}/history?limit={n}
func handleGetHistory(registry *wallet.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wlt, ok := lookupWallet(w, r, registry, logger)
		if !ok {
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = n
		}

		records := wlt.History(limit)
		writeJSON(w, map[string]interface{}{
			"address":      wlt.Address(),
			"transactions": historyToResponse(records),
			"count":        len(records),
		}, http.StatusOK)
	})
}

// handleTrackMint returns a handler that adds a token mint to a wallet's
// tracked set. The next balance refresh picks it up.
// POST /api/v1/wallets/{address}/tokens
func handleTrackMint(registry *wallet.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wlt, ok := lookupWallet(w, r, registry, logger)
		if !ok {
			return
		}

		var req struct {
			Mint string `json:"mint"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		mint, err := wallet.ParsePublicKey(req.Mint)
		if err != nil {
			writeError(w, fmt.Sprintf("invalid mint: %v", err), http.StatusBadRequest)
			return
		}

		wlt.TrackMint(mint)
		logger.Info("mint tracked", "address", wlt.Address(), "mint", mint.String())
		writeJSON(w, snapshotToResponse(wlt.Snapshot(), false), http.StatusOK)
	})
}

// handleRefreshBalance returns a handler that synchronizes a wallet's native
// and token balances against the ledger.
// POST /api/v1/wallets/{address}/refresh-balance
func handleRefreshBalance(s *syncer.Synchronizer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		snap, err := s.RefreshBalance(r.Context(), address)
		if err != nil {
			writeDomainError(w, logger, "balance refresh", address, err)
			return
		}

		tokens := make(map[string]tokenBalanceResponse, len(snap.Tokens))
		for mint, tb := range snap.Tokens {
			tokens[mint] = tokenBalanceResponse{
				Mint:        tb.Mint,
				Amount:      tb.Amount,
				Decimals:    tb.Decimals,
				UIAmount:    tb.UIAmount,
				RefreshedAt: tb.RefreshedAt,
			}
		}
		writeJSON(w, map[string]interface{}{
			"address":          snap.Address,
			"balance_lamports": snap.BalanceLamports,
			"tokens":           tokens,
			"failed_mints":     snap.FailedMints,
			"stale":            false,
			"refreshed_at":     snap.RefreshedAt,
		}, http.StatusOK)
	})
}

// handleRefreshHistory returns a handler that synchronizes a wallet's
// transaction history against the ledger. An optional limit query parameter
// bounds how many signatures are fetched.
// POST /api/v1/wallets/{address}/refresh-history?limit={n}
func handleRefreshHistory(s *syncer.Synchronizer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = n
		}

		result, err := s.RefreshHistory(r.Context(), address, limit)
		if err != nil {
			writeDomainError(w, logger, "history refresh", address, err)
			return
		}

		writeJSON(w, map[string]interface{}{
			"address":      result.Address,
			"fetched":      result.Fetched,
			"merged":       result.Merged,
			"transactions": historyToResponse(result.History),
			"stale":        false,
			"refreshed_at": result.RefreshedAt,
		}, http.StatusOK)
	})
}

// handleAirdrop returns a handler that requests a devnet airdrop for a
// wallet.
// POST /api/v1/wallets/{address}/airdrop
func handleAirdrop(registry *wallet.Registry, airdropper Airdropper, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wlt, ok := lookupWallet(w, r, registry, logger)
		if !ok {
			return
		}

		var req struct {
			Lamports uint64 `json:"lamports"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Lamports == 0 {
			req.Lamports = solana.LAMPORTS_PER_SOL
		}

		sig, err := airdropper.RequestAirdrop(r.Context(), wlt.PublicKey(), req.Lamports)
		if err != nil {
			logger.Error("airdrop failed", "address", wlt.Address(), "error", err)
			writeError(w, "airdrop request failed", http.StatusBadGateway)
			return
		}

		logger.Info("airdrop requested", "address", wlt.Address(), "lamports", req.Lamports)
		writeJSON(w, map[string]interface{}{
			"address":   wlt.Address(),
			"lamports":  req.Lamports,
			"signature": sig.String(),
		}, http.StatusAccepted)
	})
}

// handleCreateToken returns a handler that admits a token creation job.
// POST /api/v1/tokens
func handleCreateToken(o *tokenjob.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params tokenjob.Params
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		job, err := o.Submit(r.Context(), params)
		if err != nil {
			writeDomainError(w, logger, "token job submission", params.OwnerAddress, err)
			return
		}

		writeJSON(w, job.View(), http.StatusAccepted)
	})
}

// handleGetJob returns a handler that serves one token creation job.
// GET /api/v1/jobs/{job_id}
func handleGetJob(o *tokenjob.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobID := r.PathValue("job_id")

		job, err := o.Get(jobID)
		if err != nil {
			if errors.Is(err, tokenjob.ErrJobNotFound) {
				writeError(w, "job not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get job", "job_id", jobID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, job.View(), http.StatusOK)
	})
}

// handleListJobs returns a handler that lists token creation jobs.
// GET /api/v1/jobs?owner={address}
func handleListJobs(o *tokenjob.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")

		jobs := o.List(owner)
		out := make([]tokenjob.View, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, job.View())
		}

		writeJSON(w, map[string]interface{}{
			"jobs":  out,
			"count": len(out),
		}, http.StatusOK)
	})
}

// handleGetTrending returns a handler that serves the trending token set.
// GET /api/v1/trending
func handleGetTrending(cache *trending.Cache, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := cache.Get(r.Context())
		if err != nil {
			logger.Error("trending lookup failed", "error", err)
			writeError(w, "trending data unavailable", http.StatusBadGateway)
			return
		}
		writeJSON(w, result, http.StatusOK)
	})
}

// lookupWallet resolves the {address} path value to a wallet, writing the
// appropriate error response when it can't.
func lookupWallet(w http.ResponseWriter, r *http.Request, registry *wallet.Registry, logger *slog.Logger) (*wallet.Wallet, bool) {
	address := r.PathValue("address")

	wlt, err := registry.Lookup(address)
	if err != nil {
		var verr *wallet.ValidationError
		switch {
		case errors.As(err, &verr):
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, wallet.ErrNotFound):
			writeError(w, "wallet not found", http.StatusNotFound)
		default:
			logger.Error("wallet lookup failed", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
		}
		return nil, false
	}
	return wlt, true
}

// writeDomainError maps registry and gateway errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, op, address string, err error) {
	var verr *wallet.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, wallet.ErrNotFound):
		writeError(w, "wallet not found", http.StatusNotFound)
	default:
		logger.Error(op+" failed", "address", address, "error", err)
		writeError(w, op+" failed", http.StatusBadGateway)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
