package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresRPCURL(t *testing.T) {
	// t.Setenv registers cleanup, so an empty value isolates the test from
	// the surrounding environment.
	t.Setenv("SOLANA_RPC_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URL")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10.0, cfg.RPCRateLimit)
	assert.Equal(t, 5, cfg.RPCBurst)
	assert.Equal(t, 3, cfg.RPCMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RPCBackoffBase)
	assert.Equal(t, 8*time.Second, cfg.RPCBackoffMax)
	assert.Equal(t, 30*time.Second, cfg.RPCCallTimeout)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.Equal(t, 3, cfg.TokenJobMaxAttempts)
	assert.Equal(t, uint64(10_000_000), cfg.AirdropFloorLamports)
	assert.Equal(t, uint64(1_000_000_000), cfg.AirdropLamports)
	assert.Equal(t, 60*time.Second, cfg.TrendingTTL)
	assert.Equal(t, 5, cfg.TrendingSamples)
	assert.Equal(t, 10, cfg.TrendingLimit)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("RPC_RATE_LIMIT", "25.5")
	t.Setenv("RPC_BURST", "12")
	t.Setenv("RPC_BACKOFF_BASE", "250ms")
	t.Setenv("WALLET_HISTORY_LIMIT", "50")
	t.Setenv("TRENDING_TTL", "2m")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, 25.5, cfg.RPCRateLimit)
	assert.Equal(t, 12, cfg.RPCBurst)
	assert.Equal(t, 250*time.Millisecond, cfg.RPCBackoffBase)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, 2*time.Minute, cfg.TrendingTTL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	t.Setenv("RPC_BURST", "not-a-number")
	t.Setenv("RPC_BACKOFF_BASE", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RPC_BURST")
	assert.Contains(t, err.Error(), "RPC_BACKOFF_BASE")
}

func TestValidate(t *testing.T) {
	valid := Config{
		SolanaRPCURL:        "https://api.devnet.solana.com",
		RPCRateLimit:        10,
		RPCBurst:            5,
		RPCMaxAttempts:      3,
		RPCBackoffBase:      500 * time.Millisecond,
		RPCBackoffMax:       8 * time.Second,
		HistoryLimit:        100,
		TokenJobMaxAttempts: 3,
		TrendingTTL:         time.Minute,
		TrendingSamples:     5,
		TrendingLimit:       10,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing rpc url", func(c *Config) { c.SolanaRPCURL = "" }},
		{"zero rate limit", func(c *Config) { c.RPCRateLimit = 0 }},
		{"zero burst", func(c *Config) { c.RPCBurst = 0 }},
		{"zero attempts", func(c *Config) { c.RPCMaxAttempts = 0 }},
		{"backoff max below base", func(c *Config) { c.RPCBackoffMax = c.RPCBackoffBase - 1 }},
		{"zero history limit", func(c *Config) { c.HistoryLimit = 0 }},
		{"sub-second trending ttl", func(c *Config) { c.TrendingTTL = 100 * time.Millisecond }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
