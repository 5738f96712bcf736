package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/walletforge/walletforge/service/events"
	"github.com/walletforge/walletforge/service/metrics"
	"github.com/walletforge/walletforge/service/wallet"
)

// Ledger is the subset of RPC operations the synchronizer needs.
// *gateway.Gateway satisfies it.
type Ledger interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, mint solana.PublicKey) (*rpc.GetTokenAccountsResult, error)
	GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error)
}

// BalanceSnapshot is the result of one balance refresh. A refresh can
// partially succeed: the native balance is updated while some tracked mints
// fail, and those failures are reported per mint rather than failing the
// whole refresh.
type BalanceSnapshot struct {
	Address         string
	BalanceLamports uint64
	Tokens          map[string]wallet.TokenBalance
	FailedMints     map[string]string
	RefreshedAt     time.Time
}

// HistoryResult is the result of one history refresh.
type HistoryResult struct {
	Address     string
	Fetched     int
	Merged      int
	History     []wallet.TransactionRecord
	RefreshedAt time.Time
}

// Synchronizer refreshes cached wallet state from the ledger on demand.
type Synchronizer struct {
	registry     *wallet.Registry
	ledger       Ledger
	publisher    events.Publisher
	logger       *slog.Logger
	metrics      *metrics.Metrics
	historyLimit int
}

// New creates a Synchronizer. publisher and m may be nil.
func New(registry *wallet.Registry, ledger Ledger, publisher events.Publisher, historyLimit int, m *metrics.Metrics, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		registry:     registry,
		ledger:       ledger,
		publisher:    publisher,
		logger:       logger,
		metrics:      m,
		historyLimit: historyLimit,
	}
}

// RefreshBalance fetches the native balance plus every tracked mint's token
// balance and applies the successful results to the wallet's cache. A native
// balance failure fails the whole refresh and leaves the cache untouched.
// Per-mint failures are collected in the snapshot's FailedMints; the
// corresponding cached token balances keep their previous values.
func (s *Synchronizer) RefreshBalance(ctx context.Context, address string) (*BalanceSnapshot, error) {
	w, err := s.registry.Lookup(address)
	if err != nil {
		return nil, err
	}

	lamports, err := s.ledger.GetBalance(ctx, w.PublicKey())
	if err != nil {
		s.metrics.RecordBalanceRefresh("error")
		return nil, fmt.Errorf("failed to fetch balance for %s: %w", address, err)
	}

	mints := w.TrackedMints()

	var mu sync.Mutex
	tokens := make(map[string]wallet.TokenBalance, len(mints))
	failed := make(map[string]string)
	now := time.Now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	for _, mint := range mints {
		mint := mint
		g.Go(func() error {
			tb, err := s.fetchTokenBalance(gctx, w.PublicKey(), mint, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.WarnContext(gctx, "token balance refresh failed",
					"wallet", address,
					"mint", mint.String(),
					"error", err,
				)
				s.metrics.RecordMintRefreshFailure(mint.String())
				failed[mint.String()] = err.Error()
				// A single mint failure must not cancel the other fetches.
				return nil
			}
			tokens[mint.String()] = tb
			return nil
		})
	}
	_ = g.Wait()

	w.SetBalance(lamports)
	for _, tb := range tokens {
		w.SetTokenBalance(tb)
	}
	w.MarkSynced(now)

	status := "success"
	if len(failed) > 0 {
		status = "partial"
	}
	s.metrics.RecordBalanceRefresh(status)

	s.logger.InfoContext(ctx, "balance refreshed",
		"wallet", address,
		"lamports", lamports,
		"mints_ok", len(tokens),
		"mints_failed", len(failed),
	)

	snap := &BalanceSnapshot{
		Address:         address,
		BalanceLamports: lamports,
		Tokens:          tokens,
		RefreshedAt:     now,
	}
	if len(failed) > 0 {
		snap.FailedMints = failed
	}
	return snap, nil
}

// fetchTokenBalance fetches the wallet's balance for one mint. A wallet with
// no token account for the mint has a zero balance, not an error.
func (s *Synchronizer) fetchTokenBalance(ctx context.Context, owner, mint solana.PublicKey, now time.Time) (wallet.TokenBalance, error) {
	result, err := s.ledger.GetTokenAccountsByOwner(ctx, owner, mint)
	if err != nil {
		return wallet.TokenBalance{}, err
	}

	tb := wallet.TokenBalance{
		Mint:        mint.String(),
		Amount:      "0",
		Decimals:    0,
		UIAmount:    0,
		RefreshedAt: now,
	}

	if result == nil || len(result.Value) == 0 {
		return tb, nil
	}

	amount, decimals, uiAmount, err := parseTokenAccountAmount(result.Value[0].Account.Data)
	if err != nil {
		return wallet.TokenBalance{}, fmt.Errorf("failed to parse token account for mint %s: %w", mint, err)
	}

	tb.Amount = fmt.Sprintf("%d", amount)
	tb.Decimals = decimals
	tb.UIAmount = uiAmount
	return tb, nil
}

// RefreshHistory fetches signatures newer than the newest cached record and
// merges them into the wallet's history. Repeated calls with no new ledger
// activity leave the cache unchanged. Newly merged records are published as
// transaction events on a best-effort basis. limit bounds how many
// signatures are fetched; zero or anything above the configured history cap
// falls back to the cap.
func (s *Synchronizer) RefreshHistory(ctx context.Context, address string, limit int) (*HistoryResult, error) {
	w, err := s.registry.Lookup(address)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	var until solana.Signature
	if newest := w.NewestSignature(); newest != "" {
		until, err = solana.SignatureFromBase58(newest)
		if err != nil {
			// Cached signatures come from the node, so this should not
			// happen; fall back to a full fetch.
			s.logger.WarnContext(ctx, "invalid cached signature, refetching full history",
				"wallet", address,
				"signature", newest,
			)
			until = solana.Signature{}
		}
	}

	sigs, err := s.fetchSignatures(ctx, w.PublicKey(), until, limit)
	if err != nil {
		s.metrics.RecordHistoryRefresh("error")
		return nil, fmt.Errorf("failed to fetch signatures for %s: %w", address, err)
	}

	records := make([]wallet.TransactionRecord, 0, len(sigs))
	for _, sig := range sigs {
		rec := signatureToRecord(sig)

		// Enrichment is best-effort: a failed or missing transaction fetch
		// leaves the metadata-only record.
		result, err := s.ledger.GetTransaction(ctx, sig.Signature)
		if err != nil {
			s.logger.DebugContext(ctx, "transaction fetch failed, keeping metadata-only record",
				"wallet", address,
				"signature", sig.Signature.String(),
				"error", err,
			)
		} else if err := enrichRecord(w.PublicKey(), &rec, result); err != nil {
			s.logger.DebugContext(ctx, "transaction parse failed, keeping metadata-only record",
				"wallet", address,
				"signature", sig.Signature.String(),
				"error", err,
			)
		}

		records = append(records, rec)
	}

	now := time.Now().UTC()
	fresh := w.MergeHistory(records)
	w.MarkSynced(now)

	s.metrics.RecordHistoryMerged(address, len(fresh))
	s.metrics.RecordHistoryRefresh("success")

	s.publishTransactions(ctx, address, fresh)

	s.logger.InfoContext(ctx, "history refreshed",
		"wallet", address,
		"fetched", len(records),
		"merged", len(fresh),
	)

	return &HistoryResult{
		Address:     address,
		Fetched:     len(records),
		Merged:      len(fresh),
		History:     w.History(0),
		RefreshedAt: now,
	}, nil
}

// fetchSignatures pages backwards from the ledger tip until it reaches the
// until signature or limit.
func (s *Synchronizer) fetchSignatures(ctx context.Context, account solana.PublicKey, until solana.Signature, limit int) ([]*rpc.TransactionSignature, error) {
	var (
		all    []*rpc.TransactionSignature
		before solana.Signature
	)

	for len(all) < limit {
		pageLimit := limit - len(all)
		opts := &rpc.GetSignaturesForAddressOpts{
			Limit:      &pageLimit,
			Commitment: rpc.CommitmentConfirmed,
		}
		if !until.IsZero() {
			opts.Until = until
		}
		if !before.IsZero() {
			opts.Before = before
		}

		page, err := s.ledger.GetSignaturesForAddress(ctx, account, opts)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		if len(page) < pageLimit {
			break
		}
		before = page[len(page)-1].Signature
	}

	return all, nil
}

func (s *Synchronizer) publishTransactions(ctx context.Context, address string, fresh []wallet.TransactionRecord) {
	if s.publisher == nil || len(fresh) == 0 {
		return
	}
	for _, rec := range fresh {
		event := &events.TransactionEvent{
			WalletAddress: address,
			Signature:     rec.Signature,
			Slot:          rec.Slot,
			BlockTime:     rec.BlockTime,
			Amount:        rec.Amount,
			TokenMint:     rec.TokenMint,
			Status:        string(rec.Status),
			PublishedAt:   time.Now().UTC(),
		}
		if err := s.publisher.PublishTransaction(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "failed to publish transaction event",
				"wallet", address,
				"signature", rec.Signature,
				"error", err,
			)
		}
	}
}
