package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletforge/walletforge/service/events"
	"github.com/walletforge/walletforge/service/wallet"
)

// mockLedger implements Ledger for testing.
type mockLedger struct {
	balance    uint64
	balanceErr error

	// tokenAccounts maps mint address to a raw token amount; mints in
	// tokenErrs fail instead.
	tokenAccounts map[string]string
	tokenErrs     map[string]error

	signatures    []*rpc.TransactionSignature
	signaturesErr error
	sigOpts       []*rpc.GetSignaturesForAddressOpts

	transactions map[string]*rpc.GetTransactionResult
}

func (m *mockLedger) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	return m.balance, nil
}

func (m *mockLedger) GetTokenAccountsByOwner(ctx context.Context, owner, mint solana.PublicKey) (*rpc.GetTokenAccountsResult, error) {
	if err, ok := m.tokenErrs[mint.String()]; ok {
		return nil, err
	}
	amount, ok := m.tokenAccounts[mint.String()]
	if !ok {
		return &rpc.GetTokenAccountsResult{}, nil
	}

	raw := fmt.Sprintf(`{"parsed":{"info":{"mint":%q,"tokenAmount":{"amount":%q,"decimals":6,"uiAmount":1.5}}}}`, mint.String(), amount)
	var data rpc.DataBytesOrJSON
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}

	return &rpc.GetTokenAccountsResult{
		Value: []*rpc.TokenAccount{
			{Account: rpc.Account{Data: &data}},
		},
	}, nil
}

func (m *mockLedger) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	m.sigOpts = append(m.sigOpts, opts)
	if m.signaturesErr != nil {
		return nil, m.signaturesErr
	}
	out := m.signatures
	// Honor Until the way the node does: stop before the cached signature.
	if opts != nil && !opts.Until.IsZero() {
		var newer []*rpc.TransactionSignature
		for _, sig := range m.signatures {
			if sig.Signature == opts.Until {
				break
			}
			newer = append(newer, sig)
		}
		out = newer
	}
	if opts != nil && opts.Limit != nil && len(out) > *opts.Limit {
		out = out[:*opts.Limit]
	}
	return out, nil
}

func (m *mockLedger) GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	if m.transactions == nil {
		return nil, errors.New("transaction fetch unavailable")
	}
	result, ok := m.transactions[signature.String()]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return result, nil
}

var (
	sig1 = solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	sig2 = solana.MustSignatureFromBase58("2TgM4N8qCMqLvfR8dxqTQgKygPNzT5KQkN5b5sT7eZPEkdxyLTXGnNQB3j7KG4DPFg5Qez5yNJBQRQ5r7DDnFfjG")
	sig3 = solana.MustSignatureFromBase58("3LzUfBWvh7uN5sNTVPkbDGq5SNrPBKDYTJqFmH8nHq6Z9VGJ7iCxB2rLFZsKrQNuJfTnKQ5D5YqGrNqvnKQZXMQE")

	mintA = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	mintB = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

func testSignature(sig solana.Signature, slot uint64, ago time.Duration) *rpc.TransactionSignature {
	bt := solana.UnixTimeSeconds(time.Now().Add(-ago).Unix())
	return &rpc.TransactionSignature{
		Signature:          sig,
		Slot:               slot,
		BlockTime:          &bt,
		ConfirmationStatus: rpc.ConfirmationStatusFinalized,
	}
}

func newTestSynchronizer(ledger Ledger, publisher events.Publisher) (*Synchronizer, *wallet.Registry) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := wallet.NewRegistry(100, logger)
	return New(registry, ledger, publisher, 100, nil, logger), registry
}

func TestRefreshBalance_Success(t *testing.T) {
	ledger := &mockLedger{
		balance: 1_000_000,
		tokenAccounts: map[string]string{
			mintA.String(): "1500000",
		},
	}
	s, registry := newTestSynchronizer(ledger, nil)
	w, err := registry.Create("")
	require.NoError(t, err)
	w.TrackMint(mintA)

	snap, err := s.RefreshBalance(context.Background(), w.Address())

	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), snap.BalanceLamports)
	assert.Empty(t, snap.FailedMints)
	require.Contains(t, snap.Tokens, mintA.String())
	assert.Equal(t, "1500000", snap.Tokens[mintA.String()].Amount)
	assert.Equal(t, uint8(6), snap.Tokens[mintA.String()].Decimals)
	assert.False(t, w.LastSyncedAt().IsZero())
}

func TestRefreshBalance_PartialFailureKeepsStaleTokenBalance(t *testing.T) {
	ledger := &mockLedger{
		balance: 2_000_000,
		tokenAccounts: map[string]string{
			mintA.String(): "999",
		},
		tokenErrs: map[string]error{
			mintB.String(): errors.New("node is behind"),
		},
	}
	s, registry := newTestSynchronizer(ledger, nil)
	w, err := registry.Create("")
	require.NoError(t, err)
	w.TrackMint(mintA)
	w.TrackMint(mintB)

	// Seed a previous value for the mint that is about to fail.
	w.SetTokenBalance(wallet.TokenBalance{Mint: mintB.String(), Amount: "42", Decimals: 6})

	snap, err := s.RefreshBalance(context.Background(), w.Address())

	require.NoError(t, err, "per-mint failures must not fail the refresh")
	assert.Equal(t, uint64(2_000_000), snap.BalanceLamports)
	assert.Contains(t, snap.Tokens, mintA.String())
	assert.NotContains(t, snap.Tokens, mintB.String())
	require.Contains(t, snap.FailedMints, mintB.String())

	// The failed mint's cached balance keeps its previous value.
	cached := w.Snapshot().TokenAccounts[mintB.String()]
	assert.Equal(t, "42", cached.Amount)
}

func TestRefreshBalance_NativeFailureLeavesCacheIntact(t *testing.T) {
	ledger := &mockLedger{
		balanceErr: errors.New("rpc unreachable"),
	}
	s, registry := newTestSynchronizer(ledger, nil)
	w, err := registry.Create("")
	require.NoError(t, err)
	w.SetBalance(777)

	_, err = s.RefreshBalance(context.Background(), w.Address())

	require.Error(t, err)
	assert.Equal(t, uint64(777), w.Snapshot().BalanceLamports)
	assert.True(t, w.LastSyncedAt().IsZero(), "a failed refresh must not look like a sync")
}

func TestRefreshBalance_UnknownWallet(t *testing.T) {
	s, _ := newTestSynchronizer(&mockLedger{}, nil)

	_, err := s.RefreshBalance(context.Background(), mintA.String())
	assert.ErrorIs(t, err, wallet.ErrNotFound)
}

func TestRefreshHistory_MergesNewRecords(t *testing.T) {
	ledger := &mockLedger{
		signatures: []*rpc.TransactionSignature{
			testSignature(sig1, 100, 0),
			testSignature(sig2, 99, 10*time.Second),
			testSignature(sig3, 98, 20*time.Second),
		},
	}
	publisher := events.NewMockPublisher()
	s, registry := newTestSynchronizer(ledger, publisher)
	w, err := registry.Create("")
	require.NoError(t, err)

	result, err := s.RefreshHistory(context.Background(), w.Address(), 0)

	require.NoError(t, err)
	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, 3, result.Merged)
	require.Len(t, result.History, 3)
	assert.Equal(t, sig1.String(), result.History[0].Signature)
	assert.Equal(t, wallet.TxConfirmed, result.History[0].Status)

	// Each fresh record was published.
	assert.Len(t, publisher.TransactionEvents(), 3)
}

func TestRefreshHistory_Idempotent(t *testing.T) {
	ledger := &mockLedger{
		signatures: []*rpc.TransactionSignature{
			testSignature(sig1, 100, 0),
			testSignature(sig2, 99, 10*time.Second),
		},
	}
	publisher := events.NewMockPublisher()
	s, registry := newTestSynchronizer(ledger, publisher)
	w, err := registry.Create("")
	require.NoError(t, err)

	first, err := s.RefreshHistory(context.Background(), w.Address(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Merged)

	// No new ledger activity: the second refresh merges nothing and
	// publishes nothing.
	second, err := s.RefreshHistory(context.Background(), w.Address(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Merged)
	assert.Len(t, second.History, 2)
	assert.Len(t, publisher.TransactionEvents(), 2)

	// The second fetch passed the newest cached signature as the lower bound.
	require.Len(t, ledger.sigOpts, 2)
	assert.Equal(t, sig1, ledger.sigOpts[1].Until)
}

func TestRefreshHistory_CallerLimitBoundsFetch(t *testing.T) {
	ledger := &mockLedger{
		signatures: []*rpc.TransactionSignature{
			testSignature(sig1, 100, 0),
			testSignature(sig2, 99, 10*time.Second),
			testSignature(sig3, 98, 20*time.Second),
		},
	}
	s, registry := newTestSynchronizer(ledger, nil)
	w, err := registry.Create("")
	require.NoError(t, err)

	result, err := s.RefreshHistory(context.Background(), w.Address(), 2)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
	assert.Len(t, result.History, 2)
	require.Len(t, ledger.sigOpts, 1)
	require.NotNil(t, ledger.sigOpts[0].Limit)
	assert.Equal(t, 2, *ledger.sigOpts[0].Limit)

	// A limit above the configured cap falls back to the cap.
	_, err = s.RefreshHistory(context.Background(), w.Address(), 500)
	require.NoError(t, err)
	require.Len(t, ledger.sigOpts, 2)
	require.NotNil(t, ledger.sigOpts[1].Limit)
	assert.Equal(t, 100, *ledger.sigOpts[1].Limit)
}

func TestRefreshHistory_PublishFailureDoesNotFailRefresh(t *testing.T) {
	ledger := &mockLedger{
		signatures: []*rpc.TransactionSignature{
			testSignature(sig1, 100, 0),
		},
	}
	publisher := events.NewMockPublisher()
	publisher.SetPublishError(errors.New("nats unavailable"))
	s, registry := newTestSynchronizer(ledger, publisher)
	w, err := registry.Create("")
	require.NoError(t, err)

	result, err := s.RefreshHistory(context.Background(), w.Address(), 0)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Merged)
	assert.Empty(t, publisher.TransactionEvents())
}

func TestRefreshHistory_FailedSignatureMarkedFailed(t *testing.T) {
	failed := testSignature(sig1, 100, 0)
	failed.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}

	ledger := &mockLedger{
		signatures: []*rpc.TransactionSignature{failed},
	}
	s, registry := newTestSynchronizer(ledger, nil)
	w, err := registry.Create("")
	require.NoError(t, err)

	result, err := s.RefreshHistory(context.Background(), w.Address(), 0)

	require.NoError(t, err)
	require.Len(t, result.History, 1)
	assert.Equal(t, wallet.TxFailed, result.History[0].Status)
}

func TestRefreshHistory_FetchFailureLeavesCacheUntouched(t *testing.T) {
	ledger := &mockLedger{
		signaturesErr: errors.New("rpc unreachable"),
	}
	s, registry := newTestSynchronizer(ledger, nil)
	w, err := registry.Create("")
	require.NoError(t, err)
	w.MergeHistory([]wallet.TransactionRecord{{Signature: "cached", Slot: 1}})

	_, err = s.RefreshHistory(context.Background(), w.Address(), 0)

	require.Error(t, err)
	assert.Len(t, w.History(0), 1)
}
