package wallet

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(sig string, slot uint64) TransactionRecord {
	return TransactionRecord{
		Signature: sig,
		Slot:      slot,
		BlockTime: time.Now().UTC(),
		Status:    TxConfirmed,
	}
}

func TestRegistry_CreateAndLookup(t *testing.T) {
	r := NewRegistry(100, testLogger())

	w, err := r.Create("payroll")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "payroll", w.Name())
	assert.NotEmpty(t, w.Address())

	// The private key stays in the registry and matches the public key.
	assert.Equal(t, w.PublicKey(), w.PrivateKey().PublicKey())

	got, err := r.Lookup(w.Address())
	require.NoError(t, err)
	assert.Same(t, w, got)
}

func TestRegistry_LookupUnknownAddress(t *testing.T) {
	r := NewRegistry(100, testLogger())

	_, err := r.Lookup(solana.MustPublicKeyFromBase58("11111111111111111111111111111111").String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_LookupInvalidAddress(t *testing.T) {
	r := NewRegistry(100, testLogger())

	tests := []string{
		"",
		"not-base58-0OIl",
		"way too short but still base58 chars get caught by decode",
	}
	for _, address := range tests {
		_, err := r.Lookup(address)
		assert.Error(t, err, "address %q should be rejected", address)
	}
}

func TestRegistry_ListInsertionOrder(t *testing.T) {
	r := NewRegistry(100, testLogger())

	var created []string
	for i := 0; i < 5; i++ {
		w, err := r.Create(fmt.Sprintf("wallet-%d", i))
		require.NoError(t, err)
		created = append(created, w.Address())
	}

	wallets := r.List()
	require.Len(t, wallets, 5)
	for i, w := range wallets {
		assert.Equal(t, created[i], w.Address())
	}
	assert.Equal(t, 5, r.Len())
}

func TestRegistry_ConcurrentCreateAndList(t *testing.T) {
	r := NewRegistry(100, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create("")
			assert.NoError(t, err)
			r.List()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, r.Len())
}

func TestWallet_TrackMintIdempotent(t *testing.T) {
	r := NewRegistry(100, testLogger())
	w, err := r.Create("")
	require.NoError(t, err)

	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	w.TrackMint(mint)
	w.TrackMint(mint)
	w.TrackMint(mint)

	assert.Len(t, w.TrackedMints(), 1)
}

func TestWallet_MergeHistory_DedupesAndOrders(t *testing.T) {
	r := NewRegistry(100, testLogger())
	w, err := r.Create("")
	require.NoError(t, err)

	first := w.MergeHistory([]TransactionRecord{
		record("sig-3", 103),
		record("sig-2", 102),
		record("sig-1", 101),
	})
	require.Len(t, first, 3)

	// Re-merging the same batch inserts nothing.
	again := w.MergeHistory([]TransactionRecord{
		record("sig-3", 103),
		record("sig-2", 102),
	})
	assert.Nil(t, again)

	// Newer records land at the front.
	fresh := w.MergeHistory([]TransactionRecord{
		record("sig-5", 105),
		record("sig-4", 104),
	})
	require.Len(t, fresh, 2)

	history := w.History(0)
	require.Len(t, history, 5)
	assert.Equal(t, "sig-5", history[0].Signature)
	assert.Equal(t, "sig-4", history[1].Signature)
	assert.Equal(t, "sig-3", history[2].Signature)
	assert.Equal(t, "sig-1", history[4].Signature)
}

func TestWallet_MergeHistory_TruncatesAtLimit(t *testing.T) {
	r := NewRegistry(3, testLogger())
	w, err := r.Create("")
	require.NoError(t, err)

	w.MergeHistory([]TransactionRecord{
		record("sig-3", 103),
		record("sig-2", 102),
		record("sig-1", 101),
	})
	w.MergeHistory([]TransactionRecord{
		record("sig-5", 105),
		record("sig-4", 104),
	})

	history := w.History(0)
	require.Len(t, history, 3, "history must stay bounded")
	assert.Equal(t, "sig-5", history[0].Signature)
	assert.Equal(t, "sig-3", history[2].Signature)
}

func TestWallet_NewestSignature(t *testing.T) {
	r := NewRegistry(100, testLogger())
	w, err := r.Create("")
	require.NoError(t, err)

	assert.Empty(t, w.NewestSignature())

	w.MergeHistory([]TransactionRecord{
		record("sig-2", 102),
		record("sig-1", 101),
	})
	assert.Equal(t, "sig-2", w.NewestSignature())
}

func TestWallet_HistoryLimitParameter(t *testing.T) {
	r := NewRegistry(100, testLogger())
	w, err := r.Create("")
	require.NoError(t, err)

	w.MergeHistory([]TransactionRecord{
		record("sig-3", 103),
		record("sig-2", 102),
		record("sig-1", 101),
	})

	assert.Len(t, w.History(2), 2)
	assert.Len(t, w.History(0), 3)
	assert.Len(t, w.History(10), 3)
}

func TestWallet_SnapshotOmitsPrivateKeyAndCopies(t *testing.T) {
	r := NewRegistry(100, testLogger())
	w, err := r.Create("treasury")
	require.NoError(t, err)

	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	w.TrackMint(mint)
	w.SetBalance(5_000)
	w.SetTokenBalance(TokenBalance{Mint: mint.String(), Amount: "10", Decimals: 9})

	snap := w.Snapshot()
	assert.Equal(t, w.Address(), snap.PublicKey)
	assert.Equal(t, "treasury", snap.Name)
	assert.Equal(t, uint64(5_000), snap.BalanceLamports)
	require.Contains(t, snap.TokenAccounts, mint.String())

	// Mutating the snapshot must not leak into the wallet.
	snap.TokenAccounts[mint.String()] = TokenBalance{Mint: "tampered"}
	snap.TrackedMints = append(snap.TrackedMints, "tampered")

	fresh := w.Snapshot()
	assert.Equal(t, "10", fresh.TokenAccounts[mint.String()].Amount)
	assert.Len(t, fresh.TrackedMints, 1)
}

func TestParsePublicKey(t *testing.T) {
	valid := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	pk, err := ParsePublicKey(valid.String())
	require.NoError(t, err)
	assert.Equal(t, valid, pk)

	_, err = ParsePublicKey("")
	assert.Error(t, err)

	_, err = ParsePublicKey("contains 0 and spaces")
	assert.Error(t, err)
}
