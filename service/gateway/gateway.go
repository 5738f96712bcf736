package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	"github.com/walletforge/walletforge/service/metrics"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)

	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error)

	GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)

	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)

	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)

	SendTransaction(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)

	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)

	GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)

	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)

	RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64, commitment rpc.CommitmentType) (solana.Signature, error)

	GetRecentPerformanceSamples(ctx context.Context, limit *uint) ([]*rpc.GetRecentPerformanceSamplesResult, error)

	GetBlock(ctx context.Context, slot uint64, opts *rpc.GetBlockOpts) (*rpc.GetBlockResult, error)
}

// Options configures the gateway's retry, backoff and rate-limit policy.
// Zero values fall back to the documented defaults.
type Options struct {
	MaxAttempts int           // attempt ceiling for transient failures (default 3)
	BackoffBase time.Duration // first retry delay (default 500ms)
	BackoffMax  time.Duration // delay ceiling (default 8s)
	RateLimit   rate.Limit    // shared token bucket refill rate (default 10 rps)
	Burst       int           // token bucket depth (default 5)
	CallTimeout time.Duration // applied when the caller's context has no deadline (default 30s)
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = 8 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 10
	}
	if o.Burst < 1 {
		o.Burst = 5
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	return o
}

// Gateway is the single point of contact with the remote ledger. It holds no
// business state: only the transport handle, the shared rate limiter, and the
// retry policy. Every ledger call in the process funnels through it so that
// the configured request rate is never exceeded even under parallel fan-out.
type Gateway struct {
	rpc      RPCClient
	limiter  *rate.Limiter
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "testnet", rpc host)
}

// New creates a new Gateway around the given RPC client.
// The endpoint parameter is used for metrics labeling.
// If m is nil, no metrics will be recorded.
func New(rpcClient RPCClient, endpoint string, opts Options, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	opts = opts.withDefaults()
	return &Gateway{
		rpc:      rpcClient,
		limiter:  rate.NewLimiter(opts.RateLimit, opts.Burst),
		opts:     opts,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// call runs one logical RPC call with the gateway policy applied: a shared
// rate-limiter wait before every attempt, exponential backoff with jitter
// between transient failures, and immediate surfacing of permanent failures
// and deadline expiry.
func call[T any](ctx context.Context, g *Gateway, method string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	// Bound worst-case latency even for callers that forgot a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.CallTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < g.opts.MaxAttempts; attempt++ {
		waitStart := time.Now()
		if err := g.limiter.Wait(ctx); err != nil {
			if g.metrics != nil {
				g.metrics.RecordRPCTimeout(method)
			}
			return zero, &Error{Kind: KindTimeout, Method: method, Err: err}
		}
		if g.metrics != nil {
			g.metrics.RecordRateLimitWait(g.endpoint, time.Since(waitStart).Seconds())
		}

		start := time.Now()
		out, err := fn(ctx)
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		if g.metrics != nil {
			g.metrics.RecordRPCCall(method, status, g.endpoint, duration)
		}

		if err == nil {
			return out, nil
		}
		lastErr = err

		switch classify(err) {
		case KindPermanent:
			g.logger.DebugContext(ctx, "rpc call rejected",
				"method", method,
				"error", err,
			)
			return zero, &Error{Kind: KindPermanent, Method: method, Err: err}

		case KindTimeout:
			g.logger.WarnContext(ctx, "rpc call deadline exceeded",
				"method", method,
				"attempt", attempt+1,
				"error", err,
			)
			if g.metrics != nil {
				g.metrics.RecordRPCTimeout(method)
			}
			return zero, &Error{Kind: KindTimeout, Method: method, Err: err}
		}

		// Transient: back off and try again if budget remains.
		if attempt == g.opts.MaxAttempts-1 {
			break
		}

		backoff := g.backoffDelay(attempt)
		g.logger.WarnContext(ctx, "rpc call failed, backing off",
			"method", method,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		if g.metrics != nil {
			g.metrics.RecordRPCRetry(method, retryReason(err))
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			if g.metrics != nil {
				g.metrics.RecordRPCTimeout(method)
			}
			return zero, &Error{Kind: KindTimeout, Method: method, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	return zero, &Error{
		Kind:   KindTransient,
		Method: method,
		Err:    fmt.Errorf("retry budget exhausted after %d attempts: %w", g.opts.MaxAttempts, lastErr),
	}
}

// backoffDelay returns the exponential delay for the given attempt with
// equal jitter: half fixed, half random, capped at BackoffMax.
func (g *Gateway) backoffDelay(attempt int) time.Duration {
	delay := g.opts.BackoffBase << uint(attempt)
	if delay > g.opts.BackoffMax || delay <= 0 {
		delay = g.opts.BackoffMax
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// GetBalance fetches the native lamport balance of an account.
func (g *Gateway) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := call(ctx, g, "getBalance", func(ctx context.Context) (*rpc.GetBalanceResult, error) {
		return g.rpc.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	})
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

// GetTokenAccountsByOwner fetches the owner's token accounts for one mint.
func (g *Gateway) GetTokenAccountsByOwner(ctx context.Context, owner, mint solana.PublicKey) (*rpc.GetTokenAccountsResult, error) {
	return call(ctx, g, "getTokenAccountsByOwner", func(ctx context.Context) (*rpc.GetTokenAccountsResult, error) {
		return g.rpc.GetTokenAccountsByOwner(ctx,
			owner,
			&rpc.GetTokenAccountsConfig{Mint: mint.ToPointer()},
			&rpc.GetTokenAccountsOpts{
				Commitment: rpc.CommitmentConfirmed,
				Encoding:   solana.EncodingJSONParsed,
			},
		)
	})
}

// GetSignaturesForAddress lists transaction signatures for an address,
// newest first. opts controls pagination (limit / before / until).
func (g *Gateway) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return call(ctx, g, "getSignaturesForAddress", func(ctx context.Context) ([]*rpc.TransactionSignature, error) {
		return g.rpc.GetSignaturesForAddress(ctx, address, opts)
	})
}

// GetTransaction fetches full transaction details for a signature.
func (g *Gateway) GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	return call(ctx, g, "getTransaction", func(ctx context.Context) (*rpc.GetTransactionResult, error) {
		return g.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
	})
}

// GetAccountInfo fetches account info. A missing account surfaces as a
// permanent error wrapping rpc.ErrNotFound, checkable with errors.Is.
func (g *Gateway) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return call(ctx, g, "getAccountInfo", func(ctx context.Context) (*rpc.GetAccountInfoResult, error) {
		return g.rpc.GetAccountInfo(ctx, account)
	})
}

// SendTransaction submits a signed transaction to the ledger.
// Note: a timeout here does NOT mean the transaction did not land; callers
// that need certainty must re-query for the expected artifact.
func (g *Gateway) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return call(ctx, g, "sendTransaction", func(ctx context.Context) (solana.Signature, error) {
		return g.rpc.SendTransaction(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
	})
}

// GetLatestBlockhash fetches a recent blockhash for transaction assembly.
func (g *Gateway) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := call(ctx, g, "getLatestBlockhash", func(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
		return g.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	})
	if err != nil {
		return solana.Hash{}, err
	}
	return out.Value.Blockhash, nil
}

// GetTokenSupply fetches the current supply of a token mint.
func (g *Gateway) GetTokenSupply(ctx context.Context, mint solana.PublicKey) (*rpc.UiTokenAmount, error) {
	out, err := call(ctx, g, "getTokenSupply", func(ctx context.Context) (*rpc.GetTokenSupplyResult, error) {
		return g.rpc.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	})
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

// GetMinimumBalanceForRentExemption returns the lamports needed to make an
// account of the given size rent exempt.
func (g *Gateway) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	return call(ctx, g, "getMinimumBalanceForRentExemption", func(ctx context.Context) (uint64, error) {
		return g.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, rpc.CommitmentConfirmed)
	})
}

// RequestAirdrop requests lamports from the testnet faucet.
func (g *Gateway) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error) {
	return call(ctx, g, "requestAirdrop", func(ctx context.Context) (solana.Signature, error) {
		return g.rpc.RequestAirdrop(ctx, account, lamports, rpc.CommitmentConfirmed)
	})
}

// GetRecentPerformanceSamples fetches recent slot/transaction-count samples.
func (g *Gateway) GetRecentPerformanceSamples(ctx context.Context, limit uint) ([]*rpc.GetRecentPerformanceSamplesResult, error) {
	return call(ctx, g, "getRecentPerformanceSamples", func(ctx context.Context) ([]*rpc.GetRecentPerformanceSamplesResult, error) {
		return g.rpc.GetRecentPerformanceSamples(ctx, &limit)
	})
}

// GetBlock fetches a confirmed block with full transaction details.
func (g *Gateway) GetBlock(ctx context.Context, slot uint64) (*rpc.GetBlockResult, error) {
	maxVersion := uint64(0)
	includeRewards := false
	return call(ctx, g, "getBlock", func(ctx context.Context) (*rpc.GetBlockResult, error) {
		return g.rpc.GetBlock(ctx, slot, &rpc.GetBlockOpts{
			Encoding:                       solana.EncodingBase64,
			TransactionDetails:             rpc.TransactionDetailsFull,
			Rewards:                        &includeRewards,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
	})
}
