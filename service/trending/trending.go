package trending

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/singleflight"

	"github.com/walletforge/walletforge/service/metrics"
)

// BlockSource is the subset of RPC operations the trending cache needs.
// *gateway.Gateway satisfies it.
type BlockSource interface {
	GetRecentPerformanceSamples(ctx context.Context, limit uint) ([]*rpc.GetRecentPerformanceSamplesResult, error)
	GetBlock(ctx context.Context, slot uint64) (*rpc.GetBlockResult, error)
}

// Token is one trending token entry, ranked by recent activity.
type Token struct {
	Mint        string  `json:"mint"`
	Symbol      string  `json:"symbol,omitempty"`
	VolumeScore float64 `json:"volume_score"`
}

// Result is a trending snapshot plus its provenance.
type Result struct {
	Tokens      []Token   `json:"tokens"`
	RefreshedAt time.Time `json:"refreshed_at"`
	Stale       bool      `json:"stale"`
}

// Options configure the cache.
type Options struct {
	TTL     time.Duration
	Samples uint
	Limit   int
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = time.Minute
	}
	if o.Samples == 0 {
		o.Samples = 5
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
	return o
}

// Cache serves trending tokens from recent blocks with a TTL cache in front
// of the upstream. Concurrent refreshes of an expired entry collapse into a
// single upstream computation; everyone waiting gets that one result.
type Cache struct {
	source  BlockSource
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu          sync.RWMutex
	tokens      []Token
	refreshedAt time.Time
}

// NewCache creates a trending cache. m may be nil.
func NewCache(source BlockSource, opts Options, m *metrics.Metrics, logger *slog.Logger) *Cache {
	return &Cache{
		source:  source,
		opts:    opts.withDefaults(),
		logger:  logger,
		metrics: m,
	}
}

// Get returns the trending tokens. A fresh cached entry is served directly.
// An expired entry triggers one upstream refresh shared across concurrent
// callers; if that refresh fails and a previous entry exists, the previous
// entry is served marked stale instead of failing the call.
func (c *Cache) Get(ctx context.Context) (*Result, error) {
	c.mu.RLock()
	tokens, refreshedAt := c.tokens, c.refreshedAt
	c.mu.RUnlock()

	if !refreshedAt.IsZero() && time.Since(refreshedAt) < c.opts.TTL {
		c.metrics.RecordTrendingServed("hit")
		return &Result{Tokens: tokens, RefreshedAt: refreshedAt, Stale: false}, nil
	}

	v, err, shared := c.group.Do("trending", func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		if !refreshedAt.IsZero() {
			c.metrics.RecordTrendingServed("stale")
			c.logger.WarnContext(ctx, "trending refresh failed, serving stale entry",
				"age", time.Since(refreshedAt),
				"error", err,
			)
			return &Result{Tokens: tokens, RefreshedAt: refreshedAt, Stale: true}, nil
		}
		c.metrics.RecordTrendingServed("error")
		return nil, err
	}

	result := v.(*Result)
	outcome := "miss"
	if shared {
		outcome = "shared"
	}
	c.metrics.RecordTrendingServed(outcome)
	return result, nil
}

// refresh recomputes the trending set from recent blocks and stores it.
func (c *Cache) refresh(ctx context.Context) (*Result, error) {
	tokens, err := c.compute(ctx)
	if err != nil {
		c.metrics.RecordTrendingRefresh("error")
		return nil, err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.tokens = tokens
	c.refreshedAt = now
	c.mu.Unlock()

	c.metrics.RecordTrendingRefresh("success")
	c.logger.InfoContext(ctx, "trending tokens refreshed",
		"tokens", len(tokens),
	)

	return &Result{Tokens: tokens, RefreshedAt: now, Stale: false}, nil
}

// compute derives activity scores by counting how often each mint appears in
// the token balances of recently produced blocks.
func (c *Cache) compute(ctx context.Context) ([]Token, error) {
	samples, err := c.source.GetRecentPerformanceSamples(ctx, c.opts.Samples)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch performance samples: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no recent performance samples available")
	}

	counts := make(map[string]float64)
	blocksScanned := 0

	for _, sample := range samples {
		block, err := c.source.GetBlock(ctx, sample.Slot)
		if err != nil {
			// Slots get skipped on Solana routinely; scan the rest.
			c.logger.DebugContext(ctx, "skipping block",
				"slot", sample.Slot,
				"error", err,
			)
			continue
		}
		if block == nil {
			continue
		}
		blocksScanned++
		countBlockMints(block, counts)
	}

	if blocksScanned == 0 {
		return nil, fmt.Errorf("no blocks could be scanned from %d samples", len(samples))
	}

	tokens := make([]Token, 0, len(counts))
	for mint, score := range counts {
		tokens = append(tokens, Token{Mint: mint, VolumeScore: score})
	}
	sort.Slice(tokens, func(i, k int) bool {
		if tokens[i].VolumeScore != tokens[k].VolumeScore {
			return tokens[i].VolumeScore > tokens[k].VolumeScore
		}
		return tokens[i].Mint < tokens[k].Mint
	})
	if len(tokens) > c.opts.Limit {
		tokens = tokens[:c.opts.Limit]
	}
	return tokens, nil
}

// countBlockMints tallies every mint that shows up in a block's post token
// balances. The native mint placeholder is skipped.
func countBlockMints(block *rpc.GetBlockResult, counts map[string]float64) {
	for _, tx := range block.Transactions {
		if tx.Meta == nil {
			continue
		}
		for _, balance := range tx.Meta.PostTokenBalances {
			mint := balance.Mint
			if mint.IsZero() || mint.Equals(solana.WrappedSol) {
				continue
			}
			counts[mint.String()]++
		}
	}
}
