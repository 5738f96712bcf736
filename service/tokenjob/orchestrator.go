package tokenjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"

	"github.com/walletforge/walletforge/service/events"
	"github.com/walletforge/walletforge/service/gateway"
	"github.com/walletforge/walletforge/service/metrics"
	"github.com/walletforge/walletforge/service/wallet"
)

// ErrJobNotFound is returned when no job exists for the requested ID.
var ErrJobNotFound = errors.New("job not found")

// Chain is the subset of RPC operations the orchestrator needs.
// *gateway.Gateway satisfies it.
type Chain interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenSupply(ctx context.Context, mint solana.PublicKey) (*rpc.UiTokenAmount, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error)
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error)
}

// Options configure orchestrator behavior.
type Options struct {
	// MaxStepAttempts bounds how many times one pipeline step is attempted
	// before the job fails.
	MaxStepAttempts int

	// StepBackoffBase is the first delay between step attempts. Step
	// retries use the same equal-jitter exponential policy as the RPC
	// gateway, capped at StepBackoffMax.
	StepBackoffBase time.Duration
	StepBackoffMax  time.Duration

	// AirdropFloorLamports is the owner balance below which the orchestrator
	// requests an airdrop before building transactions. Only meaningful on
	// devnet and test validators.
	AirdropFloorLamports uint64

	// AirdropLamports is the amount requested per airdrop.
	AirdropLamports uint64

	// FundingPollInterval is how often the owner balance is re-checked while
	// waiting for airdrop funds.
	FundingPollInterval time.Duration

	// FundingPollAttempts bounds the funding wait.
	FundingPollAttempts int
}

func (o Options) withDefaults() Options {
	if o.MaxStepAttempts <= 0 {
		o.MaxStepAttempts = 3
	}
	if o.StepBackoffBase <= 0 {
		o.StepBackoffBase = 500 * time.Millisecond
	}
	if o.StepBackoffMax < o.StepBackoffBase {
		o.StepBackoffMax = 8 * time.Second
	}
	if o.AirdropLamports == 0 {
		o.AirdropLamports = solana.LAMPORTS_PER_SOL
	}
	if o.FundingPollInterval <= 0 {
		o.FundingPollInterval = 2 * time.Second
	}
	if o.FundingPollAttempts <= 0 {
		o.FundingPollAttempts = 15
	}
	return o
}

// Orchestrator drives token creation jobs through an explicit, resumable
// pipeline: create the mint, create the owner's associated token account,
// then mint the initial supply. Jobs survive ambiguous transaction outcomes
// by re-querying the artifact each step produces.
type Orchestrator struct {
	registry  *wallet.Registry
	chain     Chain
	publisher events.Publisher
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu           sync.RWMutex
	jobs         map[string]*Job
	order        []string
	fingerprints map[string]string
}

// New creates an Orchestrator. publisher and m may be nil.
func New(registry *wallet.Registry, chain Chain, publisher events.Publisher, opts Options, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:     registry,
		chain:        chain,
		publisher:    publisher,
		opts:         opts.withDefaults(),
		logger:       logger,
		metrics:      m,
		jobs:         make(map[string]*Job),
		fingerprints: make(map[string]string),
	}
}

// Submit admits a token creation job and starts it asynchronously. A
// resubmission with the same owner and parameters while the original job is
// pending or completed returns the original job instead of starting a second
// pipeline. A failed job does not block resubmission.
func (o *Orchestrator) Submit(ctx context.Context, params Params) (*Job, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	owner, err := o.registry.Lookup(params.OwnerAddress)
	if err != nil {
		return nil, err
	}

	fp := params.fingerprint()

	o.mu.Lock()
	if jobID, ok := o.fingerprints[fp]; ok {
		existing := o.jobs[jobID]
		if existing.State() != StateFailed {
			o.mu.Unlock()
			o.metrics.RecordTokenJobStarted("duplicate")
			o.logger.InfoContext(ctx, "duplicate token job submission, returning existing job",
				"job_id", existing.ID(),
				"owner", params.OwnerAddress,
			)
			return existing, nil
		}
	}

	job := &Job{
		id:        uuid.New().String(),
		params:    params,
		state:     StatePending,
		createdAt: time.Now().UTC(),
		updatedAt: time.Now().UTC(),
	}
	o.jobs[job.id] = job
	o.order = append(o.order, job.id)
	o.fingerprints[fp] = job.id
	o.mu.Unlock()

	o.metrics.RecordTokenJobStarted("new")
	o.logger.InfoContext(ctx, "token job admitted",
		"job_id", job.id,
		"owner", params.OwnerAddress,
		"symbol", params.Symbol,
	)

	// The pipeline outlives the submitting request.
	go o.run(context.Background(), job, owner)

	return job, nil
}

// Get returns the job with the given ID.
func (o *Orchestrator) Get(jobID string) (*Job, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List returns all jobs in admission order, optionally filtered by owner.
func (o *Orchestrator) List(ownerAddress string) []*Job {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*Job, 0, len(o.order))
	for _, id := range o.order {
		job := o.jobs[id]
		if ownerAddress != "" && job.params.OwnerAddress != ownerAddress {
			continue
		}
		out = append(out, job)
	}
	sort.SliceStable(out, func(i, k int) bool {
		return out[i].createdAt.Before(out[k].createdAt)
	})
	return out
}

// run executes the pipeline. Every state change is published as a job event
// and recorded in metrics; a step that exhausts its attempt budget moves the
// job to failed with the step and reason preserved.
func (o *Orchestrator) run(ctx context.Context, job *Job, owner *wallet.Wallet) {
	start := time.Now()

	mintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		o.fail(ctx, job, StepCreateMint, fmt.Errorf("failed to generate mint keypair: %w", err))
		o.metrics.RecordTokenJobDuration("failed", time.Since(start).Seconds())
		return
	}
	mint := mintKey.PublicKey()

	ata, _, err := solana.FindAssociatedTokenAddress(owner.PublicKey(), mint)
	if err != nil {
		o.fail(ctx, job, StepCreateAccount, fmt.Errorf("failed to derive associated token account: %w", err))
		o.metrics.RecordTokenJobDuration("failed", time.Since(start).Seconds())
		return
	}
	if err := o.ensureFunded(ctx, job, owner); err != nil {
		o.fail(ctx, job, StepFund, err)
		o.metrics.RecordTokenJobDuration("failed", time.Since(start).Seconds())
		return
	}

	steps := []struct {
		step   Step
		next   State
		exec   func(context.Context) error
		check  func(context.Context) (bool, error)
		record func()
	}{
		{
			step: StepCreateMint,
			next: StateMintCreated,
			exec: func(ctx context.Context) error {
				return o.createMint(ctx, job, owner, mintKey)
			},
			check: func(ctx context.Context) (bool, error) {
				return o.accountExists(ctx, mint)
			},
			record: func() { job.setArtifacts(mint.String(), "") },
		},
		{
			step: StepCreateAccount,
			next: StateAccountCreated,
			exec: func(ctx context.Context) error {
				return o.createTokenAccount(ctx, job, owner, mint)
			},
			check: func(ctx context.Context) (bool, error) {
				return o.accountExists(ctx, ata)
			},
			record: func() { job.setArtifacts("", ata.String()) },
		},
		{
			step: StepMintSupply,
			next: StateCompleted,
			exec: func(ctx context.Context) error {
				return o.mintSupply(ctx, job, owner, mint, ata)
			},
			check: func(ctx context.Context) (bool, error) {
				return o.supplyMinted(ctx, mint)
			},
		},
	}

	for _, s := range steps {
		if err := o.runStep(ctx, job, s.step, s.exec, s.check); err != nil {
			o.fail(ctx, job, s.step, err)
			o.metrics.RecordTokenJobDuration("failed", time.Since(start).Seconds())
			return
		}
		// The step's on-chain artifact is recorded only once the step is
		// known to have landed.
		if s.record != nil {
			s.record()
		}
		o.advance(ctx, job, s.next)
	}

	// Track the freshly created mint so balance refreshes pick it up.
	owner.TrackMint(mint)

	o.metrics.RecordTokenJobDuration("completed", time.Since(start).Seconds())
	o.logger.InfoContext(ctx, "token job completed",
		"job_id", job.ID(),
		"mint", mint.String(),
		"token_account", ata.String(),
		"duration", time.Since(start),
	)
}

// runStep attempts one pipeline step within the attempt budget. An ambiguous
// outcome, a send that timed out after possibly landing, is resolved by
// checking whether the step's on-chain artifact exists before retrying.
func (o *Orchestrator) runStep(ctx context.Context, job *Job, step Step, exec func(context.Context) error, check func(context.Context) (bool, error)) error {
	var lastErr error

	for attempt := 0; attempt < o.opts.MaxStepAttempts; attempt++ {
		err := exec(ctx)
		if err == nil {
			o.metrics.RecordTokenJobStepAttempt(string(step), "success")
			return nil
		}
		lastErr = err

		if gateway.IsTimeout(err) {
			done, checkErr := check(ctx)
			if checkErr == nil && done {
				o.metrics.RecordTokenJobStepAttempt(string(step), "recovered")
				o.logger.InfoContext(ctx, "step timed out but artifact landed on chain",
					"job_id", job.ID(),
					"step", step,
				)
				return nil
			}
		} else if gateway.IsPermanent(err) {
			o.metrics.RecordTokenJobStepAttempt(string(step), "error")
			return err
		}

		if attempt == o.opts.MaxStepAttempts-1 {
			break
		}

		backoff := o.stepBackoff(attempt)
		o.metrics.RecordTokenJobStepAttempt(string(step), "retry")
		o.logger.WarnContext(ctx, "step attempt failed, backing off",
			"job_id", job.ID(),
			"step", step,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("step %s exhausted %d attempts: %w", step, o.opts.MaxStepAttempts, lastErr)
}

// stepBackoff returns the exponential delay for the given attempt with
// equal jitter: half fixed, half random, capped at StepBackoffMax.
func (o *Orchestrator) stepBackoff(attempt int) time.Duration {
	delay := o.opts.StepBackoffBase << uint(attempt)
	if delay > o.opts.StepBackoffMax || delay <= 0 {
		delay = o.opts.StepBackoffMax
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// ensureFunded requests an airdrop when the owner balance is below the
// configured floor, then waits for the funds to arrive.
func (o *Orchestrator) ensureFunded(ctx context.Context, job *Job, owner *wallet.Wallet) error {
	if o.opts.AirdropFloorLamports == 0 {
		return nil
	}

	balance, err := o.chain.GetBalance(ctx, owner.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to check owner balance: %w", err)
	}
	if balance >= o.opts.AirdropFloorLamports {
		return nil
	}

	sig, err := o.chain.RequestAirdrop(ctx, owner.PublicKey(), o.opts.AirdropLamports)
	if err != nil {
		return fmt.Errorf("airdrop request failed: %w", err)
	}
	job.recordSignature(StepFund, sig.String())

	o.logger.InfoContext(ctx, "airdrop requested",
		"job_id", job.ID(),
		"owner", owner.Address(),
		"lamports", o.opts.AirdropLamports,
		"signature", sig.String(),
	)

	for attempt := 0; attempt < o.opts.FundingPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.opts.FundingPollInterval):
		}

		balance, err := o.chain.GetBalance(ctx, owner.PublicKey())
		if err != nil {
			continue
		}
		if balance >= o.opts.AirdropFloorLamports {
			return nil
		}
	}

	return fmt.Errorf("airdrop funds did not arrive within %d polls", o.opts.FundingPollAttempts)
}

// createMint builds and sends the transaction that allocates the mint account
// and initializes it with the owner as mint and freeze authority.
func (o *Orchestrator) createMint(ctx context.Context, job *Job, owner *wallet.Wallet, mintKey solana.PrivateKey) error {
	mint := mintKey.PublicKey()

	rent, err := o.chain.GetMinimumBalanceForRentExemption(ctx, token.MINT_SIZE)
	if err != nil {
		return fmt.Errorf("failed to fetch rent exemption: %w", err)
	}

	blockhash, err := o.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewCreateAccountInstruction(
				rent,
				token.MINT_SIZE,
				token.ProgramID,
				owner.PublicKey(),
				mint,
			).Build(),
			token.NewInitializeMintInstruction(
				job.params.Decimals,
				owner.PublicKey(),
				owner.PublicKey(),
				mint,
				solana.SysVarRentPubkey,
			).Build(),
		},
		blockhash,
		solana.TransactionPayer(owner.PublicKey()),
	)
	if err != nil {
		return fmt.Errorf("failed to build create-mint transaction: %w", err)
	}

	if err := signTransaction(tx, owner.PrivateKey(), mintKey); err != nil {
		return err
	}

	sig, err := o.chain.SendTransaction(ctx, tx)
	if err != nil {
		return err
	}
	job.recordSignature(StepCreateMint, sig.String())
	return nil
}

// createTokenAccount creates the owner's associated token account for the
// new mint.
func (o *Orchestrator) createTokenAccount(ctx context.Context, job *Job, owner *wallet.Wallet, mint solana.PublicKey) error {
	blockhash, err := o.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			associatedtokenaccount.NewCreateInstruction(
				owner.PublicKey(),
				owner.PublicKey(),
				mint,
			).Build(),
		},
		blockhash,
		solana.TransactionPayer(owner.PublicKey()),
	)
	if err != nil {
		return fmt.Errorf("failed to build create-account transaction: %w", err)
	}

	if err := signTransaction(tx, owner.PrivateKey()); err != nil {
		return err
	}

	sig, err := o.chain.SendTransaction(ctx, tx)
	if err != nil {
		return err
	}
	job.recordSignature(StepCreateAccount, sig.String())
	return nil
}

// mintSupply mints the initial supply to the owner's token account.
func (o *Orchestrator) mintSupply(ctx context.Context, job *Job, owner *wallet.Wallet, mint, ata solana.PublicKey) error {
	blockhash, err := o.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	amount, err := baseUnits(job.params.InitialSupply, job.params.Decimals)
	if err != nil {
		return err
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			token.NewMintToInstruction(
				amount,
				mint,
				ata,
				owner.PublicKey(),
				nil,
			).Build(),
		},
		blockhash,
		solana.TransactionPayer(owner.PublicKey()),
	)
	if err != nil {
		return fmt.Errorf("failed to build mint-supply transaction: %w", err)
	}

	if err := signTransaction(tx, owner.PrivateKey()); err != nil {
		return err
	}

	sig, err := o.chain.SendTransaction(ctx, tx)
	if err != nil {
		return err
	}
	job.recordSignature(StepMintSupply, sig.String())
	return nil
}

// accountExists reports whether the account is visible on chain. Used to
// resolve ambiguous send outcomes.
func (o *Orchestrator) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	result, err := o.chain.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return result != nil && result.Value != nil, nil
}

// supplyMinted reports whether the mint has nonzero supply.
func (o *Orchestrator) supplyMinted(ctx context.Context, mint solana.PublicKey) (bool, error) {
	supply, err := o.chain.GetTokenSupply(ctx, mint)
	if err != nil {
		return false, err
	}
	return supply != nil && supply.Amount != "" && supply.Amount != "0", nil
}

func (o *Orchestrator) advance(ctx context.Context, job *Job, next State) {
	prev, err := job.transition(next)
	if err != nil {
		// Transitions are driven by this goroutine only, so this indicates a
		// pipeline bug, not a race.
		o.logger.ErrorContext(ctx, "rejected job transition",
			"job_id", job.ID(),
			"error", err,
		)
		return
	}

	o.metrics.RecordTokenJobTransition(string(prev), string(next))
	o.publishJob(ctx, job)

	o.logger.InfoContext(ctx, "token job advanced",
		"job_id", job.ID(),
		"from", prev,
		"to", next,
	)
}

func (o *Orchestrator) fail(ctx context.Context, job *Job, step Step, cause error) {
	job.setFailure(step, cause.Error())
	prev, err := job.transition(StateFailed)
	if err != nil {
		o.logger.ErrorContext(ctx, "rejected job transition",
			"job_id", job.ID(),
			"error", err,
		)
		return
	}

	o.metrics.RecordTokenJobTransition(string(prev), string(StateFailed))
	o.publishJob(ctx, job)

	o.logger.ErrorContext(ctx, "token job failed",
		"job_id", job.ID(),
		"step", step,
		"error", cause,
	)
}

func (o *Orchestrator) publishJob(ctx context.Context, job *Job) {
	if o.publisher == nil {
		return
	}
	v := job.View()
	event := &events.JobEvent{
		JobID:        v.ID,
		OwnerAddress: v.OwnerAddress,
		State:        string(v.State),
		FailedStep:   string(v.FailedStep),
		Error:        v.FailureReason,
		MintAddress:  v.MintAddress,
		PublishedAt:  time.Now().UTC(),
	}
	if err := o.publisher.PublishJob(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "failed to publish job event",
			"job_id", v.ID,
			"error", err,
		)
	}
}

// signTransaction signs tx with the given keys.
func signTransaction(tx *solana.Transaction, keys ...solana.PrivateKey) error {
	byPub := make(map[solana.PublicKey]*solana.PrivateKey, len(keys))
	for i := range keys {
		key := keys[i]
		byPub[key.PublicKey()] = &key
	}
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		return byPub[pub]
	}); err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}

// baseUnits converts a whole-token supply into base units for the given
// decimals, guarding against uint64 overflow.
func baseUnits(supply uint64, decimals uint8) (uint64, error) {
	amount := supply
	for i := uint8(0); i < decimals; i++ {
		next := amount * 10
		if next/10 != amount {
			return 0, fmt.Errorf("initial supply %d with %d decimals overflows", supply, decimals)
		}
		amount = next
	}
	return amount, nil
}
