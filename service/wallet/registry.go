package wallet

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrNotFound is returned when no wallet exists for a public key.
	ErrNotFound = errors.New("wallet not found")

	// ErrDuplicateKey is returned when a freshly generated keypair collides
	// with an existing wallet. This is astronomically unlikely and indicates
	// a broken entropy source; callers should treat it as fatal, not retry.
	ErrDuplicateKey = errors.New("duplicate public key")
)

// Registry is the process-scoped, in-memory store of wallet identities.
// Its lifetime runs from process start to shutdown; there is no durable
// storage and no explicit delete. Safe for concurrent use: a read-write
// mutex guards the map and insertion order, while each wallet carries its
// own lock for cached-state mutation.
type Registry struct {
	historyLimit int
	logger       *slog.Logger

	mu      sync.RWMutex
	wallets map[solana.PublicKey]*Wallet
	order   []solana.PublicKey
}

// NewRegistry creates an empty registry. historyLimit caps the cached
// transaction records per wallet.
func NewRegistry(historyLimit int, logger *slog.Logger) *Registry {
	if historyLimit < 1 {
		historyLimit = 100
	}
	return &Registry{
		historyLimit: historyLimit,
		logger:       logger,
		wallets:      make(map[solana.PublicKey]*Wallet),
	}
}

// Create generates a fresh keypair and inserts a wallet under its public key.
// The wallet is fully constructed before it becomes visible to List/Get, so
// no reader ever observes a partially built entry.
func (r *Registry) Create(name string) (*Wallet, error) {
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	pub := priv.PublicKey()

	w := &Wallet{
		publicKey:    pub,
		privateKey:   priv,
		name:         name,
		createdAt:    time.Now().UTC(),
		historyLimit: r.historyLimit,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.wallets[pub]; exists {
		r.logger.Error("public key collision on wallet creation", "address", pub.String())
		return nil, ErrDuplicateKey
	}

	r.wallets[pub] = w
	r.order = append(r.order, pub)

	r.logger.Info("wallet created", "address", pub.String(), "name", name)
	return w, nil
}

// Get returns the wallet stored under the given public key.
func (r *Registry) Get(pub solana.PublicKey) (*Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[pub]
	if !ok {
		return nil, ErrNotFound
	}
	return w, nil
}

// Lookup validates a base58 address and returns the wallet stored under it.
// Malformed addresses fail with a *ValidationError before the map is touched.
func (r *Registry) Lookup(address string) (*Wallet, error) {
	pub, err := ParsePublicKey(address)
	if err != nil {
		return nil, err
	}
	return r.Get(pub)
}

// List returns all wallets in insertion order. The returned slice is a
// consistent snapshot: wallets created concurrently with the call either
// appear fully constructed or not at all.
func (r *Registry) List() []*Wallet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Wallet, 0, len(r.order))
	for _, pub := range r.order {
		out = append(out, r.wallets[pub])
	}
	return out
}

// Len returns the number of registered wallets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets)
}
