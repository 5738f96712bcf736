package tokenjob

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// State is a token creation job's lifecycle state. Transitions are strictly
// forward: a job never moves backwards and terminal states are final.
type State string

const (
	StatePending        State = "pending"
	StateMintCreated    State = "mint_created"
	StateAccountCreated State = "account_created"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
)

// Step names the pipeline stage a job was executing, used in failure reports
// and metrics.
type Step string

const (
	StepFund          Step = "fund_owner"
	StepCreateMint    Step = "create_mint"
	StepCreateAccount Step = "create_token_account"
	StepMintSupply    Step = "mint_supply"
)

// Params are the caller-supplied inputs of a token creation job.
type Params struct {
	OwnerAddress  string `json:"owner_address"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Decimals      uint8  `json:"decimals"`
	InitialSupply uint64 `json:"initial_supply"`
}

// Validate checks the creation parameters before a job is admitted.
func (p Params) Validate() error {
	var errs []string
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, "name is required")
	}
	if strings.TrimSpace(p.Symbol) == "" {
		errs = append(errs, "symbol is required")
	}
	if len(p.Symbol) > 12 {
		errs = append(errs, "symbol must be at most 12 characters")
	}
	if p.Decimals > 18 {
		errs = append(errs, "decimals must be at most 18")
	}
	if p.InitialSupply == 0 {
		errs = append(errs, "initial_supply must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid token parameters: %s", strings.Join(errs, "; "))
	}
	return nil
}

// fingerprint identifies a submission for idempotency. Two submissions with
// the same owner and parameters map to the same in-flight or completed job.
func (p Params) fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", p.OwnerAddress, p.Name, p.Symbol, p.Decimals, p.InitialSupply)
}

// Job is one token creation pipeline execution. All fields are guarded by mu;
// callers read state through View.
type Job struct {
	mu sync.Mutex

	id     string
	params Params

	state         State
	failedStep    Step
	failureReason string

	mintAddress  string
	tokenAccount string
	signatures   map[Step]string

	createdAt   time.Time
	updatedAt   time.Time
	completedAt time.Time
}

// View is a caller-owned copy of a job's state.
type View struct {
	ID            string            `json:"id"`
	OwnerAddress  string            `json:"owner_address"`
	Name          string            `json:"name"`
	Symbol        string            `json:"symbol"`
	Decimals      uint8             `json:"decimals"`
	InitialSupply uint64            `json:"initial_supply"`
	State         State             `json:"state"`
	FailedStep    Step              `json:"failed_step,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	MintAddress   string            `json:"mint_address,omitempty"`
	TokenAccount  string            `json:"token_account,omitempty"`
	Signatures    map[string]string `json:"signatures,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// View returns a consistent copy of the job.
func (j *Job) View() View {
	j.mu.Lock()
	defer j.mu.Unlock()

	v := View{
		ID:            j.id,
		OwnerAddress:  j.params.OwnerAddress,
		Name:          j.params.Name,
		Symbol:        j.params.Symbol,
		Decimals:      j.params.Decimals,
		InitialSupply: j.params.InitialSupply,
		State:         j.state,
		FailedStep:    j.failedStep,
		FailureReason: j.failureReason,
		MintAddress:   j.mintAddress,
		TokenAccount:  j.tokenAccount,
		CreatedAt:     j.createdAt,
		UpdatedAt:     j.updatedAt,
	}
	if len(j.signatures) > 0 {
		v.Signatures = make(map[string]string, len(j.signatures))
		for step, sig := range j.signatures {
			v.Signatures[string(step)] = sig
		}
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		v.CompletedAt = &t
	}
	return v
}

// ID returns the job's identifier.
func (j *Job) ID() string {
	return j.id
}

// State returns the job's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// validTransitions encodes the forward-only state machine.
var validTransitions = map[State][]State{
	StatePending:        {StateMintCreated, StateFailed},
	StateMintCreated:    {StateAccountCreated, StateFailed},
	StateAccountCreated: {StateCompleted, StateFailed},
}

// transition advances the job to next, returning an error for any move the
// state machine does not allow.
func (j *Job) transition(next State) (State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, allowed := range validTransitions[j.state] {
		if allowed == next {
			prev := j.state
			j.state = next
			j.updatedAt = time.Now().UTC()
			if next == StateCompleted || next == StateFailed {
				j.completedAt = j.updatedAt
			}
			return prev, nil
		}
	}
	return j.state, fmt.Errorf("illegal transition %s -> %s", j.state, next)
}

func (j *Job) recordSignature(step Step, sig string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.signatures == nil {
		j.signatures = make(map[Step]string)
	}
	j.signatures[step] = sig
	j.updatedAt = time.Now().UTC()
}

func (j *Job) setArtifacts(mint, tokenAccount string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if mint != "" {
		j.mintAddress = mint
	}
	if tokenAccount != "" {
		j.tokenAccount = tokenAccount
	}
}

func (j *Job) setFailure(step Step, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failedStep = step
	j.failureReason = reason
}
