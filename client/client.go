// Package client provides an HTTP client for the walletforge service API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Wallet is a wallet snapshot as served by the API.
type Wallet struct {
	Address         string         `json:"address"`
	Name            string         `json:"name,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	BalanceLamports uint64         `json:"balance_lamports"`
	Tokens          []TokenBalance `json:"tokens"`
	TrackedMints    []string       `json:"tracked_mints"`
	LastSyncedAt    *time.Time     `json:"last_synced_at,omitempty"`
	Stale           bool           `json:"stale"`
	History         []Transaction  `json:"history,omitempty"`
}

// TokenBalance is one token mint's cached balance.
type TokenBalance struct {
	Mint        string    `json:"mint"`
	Amount      string    `json:"amount"`
	Decimals    uint8     `json:"decimals"`
	UIAmount    float64   `json:"ui_amount"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Transaction is one cached history record.
type Transaction struct {
	Signature      string    `json:"signature"`
	Slot           uint64    `json:"slot"`
	BlockTime      time.Time `json:"block_time"`
	Status         string    `json:"status"`
	Counterparties []string  `json:"counterparties,omitempty"`
	Amount         uint64    `json:"amount"`
	TokenMint      *string   `json:"token_mint,omitempty"`
}

// BalanceSnapshot is the result of a balance refresh.
type BalanceSnapshot struct {
	Address         string                  `json:"address"`
	BalanceLamports uint64                  `json:"balance_lamports"`
	Tokens          map[string]TokenBalance `json:"tokens"`
	FailedMints     map[string]string       `json:"failed_mints,omitempty"`
	Stale           bool                    `json:"stale"`
	RefreshedAt     time.Time               `json:"refreshed_at"`
}

// HistoryResult is the result of a history refresh.
type HistoryResult struct {
	Address      string        `json:"address"`
	Fetched      int           `json:"fetched"`
	Merged       int           `json:"merged"`
	Transactions []Transaction `json:"transactions"`
	Stale        bool          `json:"stale"`
	RefreshedAt  time.Time     `json:"refreshed_at"`
}

// TokenParams are the inputs of a token creation job.
type TokenParams struct {
	OwnerAddress  string `json:"owner_address"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Decimals      uint8  `json:"decimals"`
	InitialSupply uint64 `json:"initial_supply"`
}

// Job is a token creation job as served by the API.
type Job struct {
	ID            string            `json:"id"`
	OwnerAddress  string            `json:"owner_address"`
	Name          string            `json:"name"`
	Symbol        string            `json:"symbol"`
	Decimals      uint8             `json:"decimals"`
	InitialSupply uint64            `json:"initial_supply"`
	State         string            `json:"state"`
	FailedStep    string            `json:"failed_step,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	MintAddress   string            `json:"mint_address,omitempty"`
	TokenAccount  string            `json:"token_account,omitempty"`
	Signatures    map[string]string `json:"signatures,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// TrendingToken is one trending token entry.
type TrendingToken struct {
	Mint        string  `json:"mint"`
	Symbol      string  `json:"symbol,omitempty"`
	VolumeScore float64 `json:"volume_score"`
}

// TrendingResult is a trending snapshot plus its provenance.
type TrendingResult struct {
	Tokens      []TrendingToken `json:"tokens"`
	RefreshedAt time.Time       `json:"refreshed_at"`
	Stale       bool            `json:"stale"`
}

// AirdropReceipt is the acknowledgement of an airdrop request.
type AirdropReceipt struct {
	Address   string `json:"address"`
	Lamports  uint64 `json:"lamports"`
	Signature string `json:"signature"`
}

// Client is the HTTP client for the walletforge service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new walletforge service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateWallet asks the server to generate a new custodial wallet.
func (c *Client) CreateWallet(ctx context.Context, name string) (*Wallet, error) {
	var out Wallet
	err := c.do(ctx, "POST", "/api/v1/wallets", map[string]string{"name": name}, http.StatusCreated, &out)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("wallet created", "address", out.Address)
	return &out, nil
}

// ListWallets retrieves all wallets known to the server.
func (c *Client) ListWallets(ctx context.Context) ([]Wallet, error) {
	var out struct {
		Wallets []Wallet `json:"wallets"`
	}
	if err := c.do(ctx, "GET", "/api/v1/wallets", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Wallets, nil
}

// GetWallet retrieves one wallet's cached snapshot.
func (c *Client) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	var out Wallet
	path := "/api/v1/wallets/" + url.PathEscape(address)
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHistory retrieves a wallet's cached transaction history. limit <= 0
// returns everything cached.
func (c *Client) GetHistory(ctx context.Context, address string, limit int) ([]Transaction, error) {
	path := "/api/v1/wallets/" + url.PathEscape(address) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// TrackMint adds a token mint to the wallet's tracked set.
func (c *Client) TrackMint(ctx context.Context, address, mint string) (*Wallet, error) {
	var out Wallet
	path := "/api/v1/wallets/" + url.PathEscape(address) + "/tokens"
	if err := c.do(ctx, "POST", path, map[string]string{"mint": mint}, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshBalance synchronizes a wallet's balances against the ledger.
func (c *Client) RefreshBalance(ctx context.Context, address string) (*BalanceSnapshot, error) {
	var out BalanceSnapshot
	path := "/api/v1/wallets/" + url.PathEscape(address) + "/refresh-balance"
	if err := c.do(ctx, "POST", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshHistory synchronizes a wallet's transaction history. limit <= 0
// fetches up to the server's history cap.
func (c *Client) RefreshHistory(ctx context.Context, address string, limit int) (*HistoryResult, error) {
	var out HistoryResult
	path := "/api/v1/wallets/" + url.PathEscape(address) + "/refresh-history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, "POST", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Airdrop requests a devnet airdrop for a wallet. lamports == 0 uses the
// server default.
func (c *Client) Airdrop(ctx context.Context, address string, lamports uint64) (*AirdropReceipt, error) {
	var out AirdropReceipt
	path := "/api/v1/wallets/" + url.PathEscape(address) + "/airdrop"
	body := map[string]uint64{"lamports": lamports}
	if err := c.do(ctx, "POST", path, body, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateToken submits a token creation job.
func (c *Client) CreateToken(ctx context.Context, params TokenParams) (*Job, error) {
	var out Job
	if err := c.do(ctx, "POST", "/api/v1/tokens", params, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("token job submitted", "job_id", out.ID, "state", out.State)
	return &out, nil
}

// GetJob retrieves one token creation job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var out Job
	path := "/api/v1/jobs/" + url.PathEscape(jobID)
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs retrieves token creation jobs, optionally filtered by owner.
func (c *Client) ListJobs(ctx context.Context, owner string) ([]Job, error) {
	path := "/api/v1/jobs"
	if owner != "" {
		path += "?owner=" + url.QueryEscape(owner)
	}
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Trending retrieves the trending token set.
func (c *Client) Trending(ctx context.Context) (*TrendingResult, error) {
	var out TrendingResult
	if err := c.do(ctx, "GET", "/api/v1/trending", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// do performs one API request and decodes the response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body interface{}, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse extracts the error message from an API error response.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, apiErr.Error)
}
