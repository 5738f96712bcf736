package wallet

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Wallet is an in-memory wallet identity plus its cached derived state.
// Identity fields (keys, name, creation time) are immutable after creation;
// cached fields are mutated only by the synchronizer and the token creation
// orchestrator, serialized by the wallet's own mutex so that unrelated
// wallets never contend on a shared lock.
type Wallet struct {
	publicKey  solana.PublicKey
	privateKey solana.PrivateKey
	name       string
	createdAt  time.Time

	mu            sync.Mutex
	balance       uint64
	tokenAccounts map[string]TokenBalance
	trackedMints  []solana.PublicKey
	history       []TransactionRecord
	historyLimit  int
	lastSyncedAt  time.Time
}

// PublicKey returns the wallet's public key.
func (w *Wallet) PublicKey() solana.PublicKey {
	return w.publicKey
}

// Address returns the wallet's base58 address.
func (w *Wallet) Address() string {
	return w.publicKey.String()
}

// Name returns the user-supplied wallet label.
func (w *Wallet) Name() string {
	return w.name
}

// PrivateKey exposes the signing key to in-process collaborators (the token
// creation orchestrator). It is never serialized outside the process.
func (w *Wallet) PrivateKey() solana.PrivateKey {
	return w.privateKey
}

// TrackMint registers a token mint for balance fan-out. Idempotent.
func (w *Wallet) TrackMint(mint solana.PublicKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.trackedMints {
		if m.Equals(mint) {
			return
		}
	}
	w.trackedMints = append(w.trackedMints, mint)
}

// TrackedMints returns a copy of the mints registered for balance fan-out.
func (w *Wallet) TrackedMints() []solana.PublicKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]solana.PublicKey, len(w.trackedMints))
	copy(out, w.trackedMints)
	return out
}

// SetBalance replaces the cached native balance.
func (w *Wallet) SetBalance(lamports uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance = lamports
}

// SetTokenBalance replaces the cached balance for one mint. The caller only
// invokes this for mints that individually refreshed, so failed mints keep
// their previous cached value.
func (w *Wallet) SetTokenBalance(tb TokenBalance) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tokenAccounts == nil {
		w.tokenAccounts = make(map[string]TokenBalance)
	}
	w.tokenAccounts[tb.Mint] = tb
}

// NewestSignature returns the signature of the most recent cached record,
// or "" when the history is empty.
func (w *Wallet) NewestSignature() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.history) == 0 {
		return ""
	}
	return w.history[0].Signature
}

// MergeHistory merges records (newest first) into the cached history,
// preserving newest-first order, skipping signatures already cached, and
// truncating at the wallet's history cap. Returns the records actually
// inserted so callers can publish them as events.
func (w *Wallet) MergeHistory(records []TransactionRecord) []TransactionRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	existing := make(map[string]struct{}, len(w.history))
	for _, r := range w.history {
		existing[r.Signature] = struct{}{}
	}

	fresh := make([]TransactionRecord, 0, len(records))
	for _, r := range records {
		if _, ok := existing[r.Signature]; ok {
			continue
		}
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return nil
	}

	merged := make([]TransactionRecord, 0, len(fresh)+len(w.history))
	merged = append(merged, fresh...)
	merged = append(merged, w.history...)
	if len(merged) > w.historyLimit {
		merged = merged[:w.historyLimit]
	}
	w.history = merged
	return fresh
}

// History returns up to limit cached records, newest first.
// limit <= 0 returns everything.
func (w *Wallet) History(limit int) []TransactionRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]TransactionRecord, n)
	copy(out, w.history[:n])
	return out
}

// MarkSynced records a successful synchronization against the ledger.
// Called only on success: a failed refresh leaves the previous timestamp
// (and therefore the staleness report) intact.
func (w *Wallet) MarkSynced(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSyncedAt = t
}

// LastSyncedAt returns the time of the last successful sync (zero if never).
func (w *Wallet) LastSyncedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSyncedAt
}

// Snapshot returns a consistent copy of the wallet's cached state.
func (w *Wallet) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	tokens := make(map[string]TokenBalance, len(w.tokenAccounts))
	for mint, tb := range w.tokenAccounts {
		tokens[mint] = tb
	}

	mints := make([]string, len(w.trackedMints))
	for i, m := range w.trackedMints {
		mints[i] = m.String()
	}

	history := make([]TransactionRecord, len(w.history))
	copy(history, w.history)

	return Snapshot{
		PublicKey:       w.publicKey.String(),
		Name:            w.name,
		CreatedAt:       w.createdAt,
		BalanceLamports: w.balance,
		TokenAccounts:   tokens,
		TrackedMints:    mints,
		History:         history,
		LastSyncedAt:    w.lastSyncedAt,
	}
}
