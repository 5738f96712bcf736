package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	balanceResult *rpc.GetBalanceResult
	tokenAccounts *rpc.GetTokenAccountsResult
	signatures    []*rpc.TransactionSignature

	// errs are consumed one per call; once exhausted, calls succeed.
	errs  []error
	calls int
}

func (m *mockRPCClient) nextErr() error {
	m.calls++
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	m.errs = m.errs[1:]
	return err
}

func (m *mockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return m.balanceResult, nil
}

func (m *mockRPCClient) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return m.tokenAccounts, nil
}

func (m *mockRPCClient) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return &rpc.GetTransactionResult{}, nil
}

func (m *mockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return &rpc.GetAccountInfoResult{}, nil
}

func (m *mockRPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	if err := m.nextErr(); err != nil {
		return solana.Signature{}, err
	}
	return solana.Signature{}, nil
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{}}, nil
}

func (m *mockRPCClient) GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return &rpc.GetTokenSupplyResult{Value: &rpc.UiTokenAmount{}}, nil
}

func (m *mockRPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error) {
	if err := m.nextErr(); err != nil {
		return 0, err
	}
	return 0, nil
}

func (m *mockRPCClient) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64, commitment rpc.CommitmentType) (solana.Signature, error) {
	if err := m.nextErr(); err != nil {
		return solana.Signature{}, err
	}
	return solana.Signature{}, nil
}

func (m *mockRPCClient) GetRecentPerformanceSamples(ctx context.Context, limit *uint) ([]*rpc.GetRecentPerformanceSamplesResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *mockRPCClient) GetBlock(ctx context.Context, slot uint64, opts *rpc.GetBlockOpts) (*rpc.GetBlockResult, error) {
	if err := m.nextErr(); err != nil {
		return nil, err
	}
	return &rpc.GetBlockResult{}, nil
}

func newTestGateway(mock *mockRPCClient) *Gateway {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(mock, "test", Options{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		RateLimit:   10000,
		Burst:       100,
		CallTimeout: 5 * time.Second,
	}, nil, logger)
}

var testAccount = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

func TestGetBalance_Success(t *testing.T) {
	mock := &mockRPCClient{
		balanceResult: &rpc.GetBalanceResult{Value: 42_000_000},
	}
	g := newTestGateway(mock)

	balance, err := g.GetBalance(context.Background(), testAccount)

	require.NoError(t, err)
	assert.Equal(t, uint64(42_000_000), balance)
	assert.Equal(t, 1, mock.calls)
}

func TestGetBalance_RetriesTransientThenSucceeds(t *testing.T) {
	mock := &mockRPCClient{
		balanceResult: &rpc.GetBalanceResult{Value: 7},
		errs: []error{
			errors.New("429 Too Many Requests"),
			errors.New("connection reset by peer"),
		},
	}
	g := newTestGateway(mock)

	balance, err := g.GetBalance(context.Background(), testAccount)

	require.NoError(t, err)
	assert.Equal(t, uint64(7), balance)
	assert.Equal(t, 3, mock.calls)
}

func TestGetBalance_PermanentFailsImmediately(t *testing.T) {
	mock := &mockRPCClient{
		errs: []error{
			&jsonrpc.RPCError{Code: -32602, Message: "Invalid params"},
		},
	}
	g := newTestGateway(mock)

	_, err := g.GetBalance(context.Background(), testAccount)

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, mock.calls, "permanent errors must not be retried")
}

func TestGetBalance_ExhaustsRetryBudget(t *testing.T) {
	mock := &mockRPCClient{
		errs: []error{
			errors.New("503 Service Unavailable"),
			errors.New("503 Service Unavailable"),
			errors.New("503 Service Unavailable"),
		},
	}
	g := newTestGateway(mock)

	_, err := g.GetBalance(context.Background(), testAccount)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "retry budget exhausted")
	assert.Equal(t, 3, mock.calls)
}

func TestGetBalance_CanceledContextIsTimeout(t *testing.T) {
	mock := &mockRPCClient{
		errs: []error{context.DeadlineExceeded},
	}
	g := newTestGateway(mock)

	_, err := g.GetBalance(context.Background(), testAccount)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, 1, mock.calls, "deadline expiry must not be retried")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "node unhealthy is transient",
			err:  &jsonrpc.RPCError{Code: -32005, Message: "Node is unhealthy"},
			want: KindTransient,
		},
		{
			name: "block not available is transient",
			err:  &jsonrpc.RPCError{Code: -32004, Message: "Block not available"},
			want: KindTransient,
		},
		{
			name: "invalid params is permanent",
			err:  &jsonrpc.RPCError{Code: -32602, Message: "Invalid params"},
			want: KindPermanent,
		},
		{
			name: "method not found is permanent",
			err:  &jsonrpc.RPCError{Code: -32601, Message: "Method not found"},
			want: KindPermanent,
		},
		{
			name: "not found is permanent",
			err:  rpc.ErrNotFound,
			want: KindPermanent,
		},
		{
			name: "rate limit string is transient",
			err:  errors.New("429 Too Many Requests"),
			want: KindTransient,
		},
		{
			name: "deadline exceeded is timeout",
			err:  context.DeadlineExceeded,
			want: KindTimeout,
		},
		{
			name: "unknown error defaults to permanent",
			err:  errors.New("something else entirely"),
			want: KindPermanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestBackoffDelay_Capped(t *testing.T) {
	g := newTestGateway(&mockRPCClient{})

	for attempt := 0; attempt < 20; attempt++ {
		delay := g.backoffDelay(attempt)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, g.opts.BackoffMax)
	}
}
