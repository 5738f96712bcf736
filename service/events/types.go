package events

import (
	"time"
)

// TransactionEvent is published whenever the synchronizer merges a new
// transaction record into a wallet's cached history. Subject:
// "wallets.txns.{address}".
type TransactionEvent struct {
	WalletAddress string    `json:"wallet_address"`
	Signature     string    `json:"signature"`
	Slot          uint64    `json:"slot"`
	BlockTime     time.Time `json:"block_time"`
	Amount        uint64    `json:"amount"`
	TokenMint     *string   `json:"token_mint,omitempty"`
	Status        string    `json:"status"`
	PublishedAt   time.Time `json:"published_at"`
}

// JobEvent is published on every token creation job state transition.
// Subject: "wallets.jobs.{job_id}".
type JobEvent struct {
	JobID        string    `json:"job_id"`
	OwnerAddress string    `json:"owner_address"`
	State        string    `json:"state"`
	FailedStep   string    `json:"failed_step,omitempty"`
	Error        string    `json:"error,omitempty"`
	MintAddress  string    `json:"mint_address,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
}
