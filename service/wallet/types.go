package wallet

import (
	"time"
)

// TxStatus is the confirmation status of a cached transaction record.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// TransactionRecord is an immutable snapshot of a ledger transaction cached
// under a wallet. Records are held newest-first and bounded per wallet.
type TransactionRecord struct {
	Signature      string
	Slot           uint64
	BlockTime      time.Time
	Status         TxStatus
	Counterparties []string
	Amount         uint64
	TokenMint      *string // nil for native SOL transfers
}

// TokenBalance is the cached balance of one token mint held by a wallet.
type TokenBalance struct {
	Mint        string
	Amount      string // raw amount in base units, as reported by the node
	Decimals    uint8
	UIAmount    float64
	RefreshedAt time.Time
}

// Snapshot is a consistent, caller-owned copy of a wallet's cached state.
// The private key is deliberately absent: it never leaves the process.
type Snapshot struct {
	PublicKey       string
	Name            string
	CreatedAt       time.Time
	BalanceLamports uint64
	TokenAccounts   map[string]TokenBalance
	TrackedMints    []string
	History         []TransactionRecord
	LastSyncedAt    time.Time
}
