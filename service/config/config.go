package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Solana RPC configuration
	SolanaRPCURL string

	// Gateway policy: rate limiting and retry/backoff.
	// The token bucket is shared across every caller of the gateway.
	RPCRateLimit   float64 // requests per second
	RPCBurst       int
	RPCMaxAttempts int
	RPCBackoffBase time.Duration
	RPCBackoffMax  time.Duration
	RPCCallTimeout time.Duration // per-call ceiling applied when the caller supplies none

	// Wallet cache configuration
	HistoryLimit int // max cached transaction records per wallet

	// Token creation workflow configuration
	TokenJobMaxAttempts  int // per-step retry budget
	AirdropFloorLamports uint64
	AirdropLamports      uint64

	// Trending token cache configuration
	TrendingTTL     time.Duration
	TrendingSamples int // recent performance samples to inspect per refresh
	TrendingLimit   int // entries kept per refresh

	// NATS configuration (optional; empty disables event publishing)
	NATSURL string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	// Gateway policy
	rateLimit, err := parseFloat("RPC_RATE_LIMIT", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRateLimit = rateLimit
	}

	burst, err := parseInt("RPC_BURST", 5)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCBurst = burst
	}

	maxAttempts, err := parseInt("RPC_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCMaxAttempts = maxAttempts
	}

	backoffBase, err := parseDuration("RPC_BACKOFF_BASE", "500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCBackoffBase = backoffBase
	}

	backoffMax, err := parseDuration("RPC_BACKOFF_MAX", "8s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCBackoffMax = backoffMax
	}

	callTimeout, err := parseDuration("RPC_CALL_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCCallTimeout = callTimeout
	}

	// Wallet cache
	historyLimit, err := parseInt("WALLET_HISTORY_LIMIT", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.HistoryLimit = historyLimit
	}

	// Token creation workflow
	jobAttempts, err := parseInt("TOKEN_JOB_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TokenJobMaxAttempts = jobAttempts
	}

	airdropFloor, err := parseUint("AIRDROP_FLOOR_LAMPORTS", 10_000_000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.AirdropFloorLamports = airdropFloor
	}

	airdropAmount, err := parseUint("AIRDROP_LAMPORTS", 1_000_000_000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.AirdropLamports = airdropAmount
	}

	// Trending cache
	trendingTTL, err := parseDuration("TRENDING_TTL", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TrendingTTL = trendingTTL
	}

	trendingSamples, err := parseInt("TRENDING_SAMPLES", 5)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TrendingSamples = trendingSamples
	}

	trendingLimit, err := parseInt("TRENDING_LIMIT", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TrendingLimit = trendingLimit
	}

	// NATS configuration (optional)
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.RPCRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("RPCRateLimit must be positive"))
	}

	if c.RPCBurst < 1 {
		errs = append(errs, fmt.Errorf("RPCBurst must be at least 1"))
	}

	if c.RPCMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RPCMaxAttempts must be at least 1"))
	}

	if c.RPCBackoffBase <= 0 {
		errs = append(errs, fmt.Errorf("RPCBackoffBase must be positive"))
	}

	if c.RPCBackoffMax < c.RPCBackoffBase {
		errs = append(errs, fmt.Errorf("RPCBackoffMax (%v) cannot be less than RPCBackoffBase (%v)",
			c.RPCBackoffMax, c.RPCBackoffBase))
	}

	if c.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("HistoryLimit must be at least 1"))
	}

	if c.TokenJobMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("TokenJobMaxAttempts must be at least 1"))
	}

	if c.TrendingTTL < time.Second {
		errs = append(errs, fmt.Errorf("TrendingTTL must be at least 1 second"))
	}

	if c.TrendingSamples < 1 {
		errs = append(errs, fmt.Errorf("TrendingSamples must be at least 1"))
	}

	if c.TrendingLimit < 1 {
		errs = append(errs, fmt.Errorf("TrendingLimit must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseUint parses an unsigned integer from an environment variable or uses a default.
func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseFloat parses a float from an environment variable or uses a default.
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
