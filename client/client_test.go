package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWallet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/wallets", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "savings", req["name"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Wallet{Address: "abc123", Name: "savings"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	wlt, err := c.CreateWallet(context.Background(), "savings")

	require.NoError(t, err)
	assert.Equal(t, "abc123", wlt.Address)
	assert.Equal(t, "savings", wlt.Name)
}

func TestRefreshBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/wallets/abc123/refresh-balance", r.URL.Path)

		json.NewEncoder(w).Encode(BalanceSnapshot{
			Address:         "abc123",
			BalanceLamports: 42,
			FailedMints:     map[string]string{"mintX": "node behind"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	snap, err := c.RefreshBalance(context.Background(), "abc123")

	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.BalanceLamports)
	assert.Contains(t, snap.FailedMints, "mintX")
}

func TestGetHistory_PassesLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"transactions": []Transaction{{Signature: "sig-1"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	txns, err := c.GetHistory(context.Background(), "abc123", 5)

	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "sig-1", txns[0].Signature)
}

func TestRefreshHistory_PassesLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/wallets/abc123/refresh-history", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(HistoryResult{Address: "abc123", Fetched: 2, Merged: 1})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	result, err := c.RefreshHistory(context.Background(), "abc123", 25)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Merged)
}

func TestCreateToken_SubmitsParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tokens", r.URL.Path)

		var params TokenParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "FORGE", params.Symbol)

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(Job{ID: "job-1", State: "pending"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	job, err := c.CreateToken(context.Background(), TokenParams{
		OwnerAddress:  "abc123",
		Name:          "Forge Coin",
		Symbol:        "FORGE",
		Decimals:      6,
		InitialSupply: 1000,
	})

	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "pending", job.State)
}

func TestListJobs_OwnerFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc123", r.URL.Query().Get("owner"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jobs": []Job{{ID: "job-1"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	jobs, err := c.ListJobs(context.Background(), "abc123")

	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestErrorResponsesSurfaceMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "wallet not found"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	_, err := c.GetWallet(context.Background(), "missing")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet not found")
	assert.Contains(t, err.Error(), "404")
}

func TestTrending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/trending", r.URL.Path)
		json.NewEncoder(w).Encode(TrendingResult{
			Tokens: []TrendingToken{{Mint: "mintA", VolumeScore: 3}},
			Stale:  true,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	result, err := c.Trending(context.Background())

	require.NoError(t, err)
	require.Len(t, result.Tokens, 1)
	assert.True(t, result.Stale)
}
