package circle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/circlelabs/circle/event"
)

// Rules are the voting parameters of a circle. They apply to proposals from
// the moment they are opened; a proposal snapshots the rules in force at its
// creation.
type Rules struct {
	// VotingPeriod bounds how long a proposal stays open. It also sets the
	// grace period for admission batches and pending escrow changes, and
	// twice this period is the leave delay.
	VotingPeriod time.Duration
	// Quorum is the fraction of the snapshot weight that must vote yes for
	// a tally to be decisive.
	Quorum Fraction
	// Threshold is the fraction of the snapshot weight of yes votes
	// required to pass.
	Threshold Fraction
	// AllowEndEarly lets a proposal pass the moment the rule is satisfied
	// instead of waiting for expiry.
	AllowEndEarly bool
}

func (r Rules) Validate() error {
	if r.Quorum == 0 || r.Quorum > Full {
		return fmt.Errorf("quorum must be within (0, 1]: %s", r.Quorum)
	}
	if r.Threshold < Full/2 || r.Threshold > Full {
		return fmt.Errorf("threshold must be within [0.5, 1]: %s", r.Threshold)
	}
	if r.VotingPeriod <= 0 {
		return fmt.Errorf("voting period must be positive: %s", r.VotingPeriod)
	}
	return nil
}

// Executor is the host-supplied capability for moving funds out of the
// contract. The contract itself never holds tokens; it instructs the host
// ledger through this interface and treats any error as grounds to fail the
// calling operation.
type Executor interface {
	// Send transfers amount to the recipient address.
	Send(ctx context.Context, recipient string, amount *uint256.Int) error
	// Burn destroys amount.
	Burn(ctx context.Context, amount *uint256.Int) error
}

// nopExecutor discards all fund movements. It stands in when the host does
// not wire an executor, for example in tests that only exercise state
// transitions.
type nopExecutor struct{}

func (nopExecutor) Send(context.Context, string, *uint256.Int) error { return nil }
func (nopExecutor) Burn(context.Context, *uint256.Int) error         { return nil }

// Contract is the trusted-circle membership core. It owns the member table,
// escrow ledger, batch tracker and proposal table, and drives every status
// transition through serialized operations: the host ledger executes one
// operation at a time and each operation either completes or fails without
// partial mutation.
//
// The contract runs only in memory; persistence and crash recovery belong to
// the hosting ledger. Time never advances on its own: deadlines are compared
// against the clock at the moment an operation executes.
type Contract struct {
	mu sync.Mutex

	name  string
	rules Rules

	escrow  *ledger
	batches *batchTracker
	members map[string]*memberRecord
	// totalWeight is the current sum of member weights. Proposal snapshots
	// copy it at creation and adjust independently as voters leave.
	totalWeight uint64

	proposals map[uint64]*Proposal
	// seq allocates proposal ids; admission batches reuse the id of the
	// proposal that created them, so the sequence covers both.
	seq uint64

	executor Executor
	now      func() time.Time
	bus      *event.Bus
	logger   zerolog.Logger
}

// Option configures a Contract. Unset options fall back to defaults.
type Option func(c *Contract)

// WithExecutor wires the host capability for fund movement.
func WithExecutor(e Executor) Option {
	return func(c *Contract) { c.executor = e }
}

// WithClock sets the time source, which must follow the host ledger's block
// time.
func WithClock(now func() time.Time) Option {
	return func(c *Contract) { c.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Contract) { c.logger = logger }
}

// WithEventBus publishes all domain events on the given bus in addition to
// returning them to callers.
func WithEventBus(bus *event.Bus) Option {
	return func(c *Contract) { c.bus = bus }
}

// WithNonVotingMembers admits the given addresses as non-voting members at
// creation.
func WithNonVotingMembers(addrs ...string) Option {
	return func(c *Contract) {
		for _, addr := range addrs {
			if _, ok := c.members[addr]; !ok {
				c.members[addr] = &memberRecord{status: NonVoting{}}
			}
		}
	}
}

// New creates a circle. The creator becomes its first voting member and must
// deposit at least the required escrow up front.
func New(name string, requiredEscrow *uint256.Int, rules Rules, creator string, deposit *uint256.Int, opts ...Option) (*Contract, error) {
	if name == "" {
		return nil, errors.New("missing circle name")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if requiredEscrow == nil || requiredEscrow.IsZero() {
		return nil, errors.New("required escrow must be positive")
	}
	if deposit == nil || deposit.Lt(requiredEscrow) {
		return nil, fmt.Errorf("%w: creator deposit %s below required %s", ErrInsufficientEscrow, deposit, requiredEscrow)
	}

	c := &Contract{
		name:      name,
		rules:     rules,
		escrow:    newLedger(requiredEscrow),
		batches:   newBatchTracker(),
		members:   make(map[string]*memberRecord),
		proposals: make(map[uint64]*Proposal),
		executor:  nopExecutor{},
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.members[creator] = &memberRecord{status: Voting{}}
	c.escrow.deposit(creator, deposit)
	c.totalWeight = VotingWeight

	c.logger.Info().
		Str("name", name).
		Str("creator", creator).
		Str("required_escrow", requiredEscrow.String()).
		Msg("circle created")
	return c, nil
}

// Name returns the circle's name.
func (c *Contract) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// nextID allocates the next proposal/batch id.
func (c *Contract) nextID() uint64 {
	c.seq++
	return c.seq
}

// contractState is a deep copy of everything a proposal execution can touch,
// taken so a failed execution restores the exact prior state.
type contractState struct {
	name        string
	rules       Rules
	escrow      *ledger
	batches     *batchTracker
	members     map[string]*memberRecord
	totalWeight uint64
	seq         uint64
}

func (c *Contract) snapshotState() contractState {
	members := make(map[string]*memberRecord, len(c.members))
	for addr, rec := range c.members {
		cp := *rec
		members[addr] = &cp
	}
	return contractState{
		name:        c.name,
		rules:       c.rules,
		escrow:      c.escrow.clone(),
		batches:     c.batches.clone(),
		members:     members,
		totalWeight: c.totalWeight,
		seq:         c.seq,
	}
}

func (c *Contract) restoreState(s contractState) {
	c.name = s.name
	c.rules = s.rules
	c.escrow = s.escrow
	c.batches = s.batches
	c.members = s.members
	c.totalWeight = s.totalWeight
	c.seq = s.seq
}
