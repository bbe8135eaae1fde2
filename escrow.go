package circle

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// PendingEscrow is a queued change to the required escrow amount. It is
// applied by checkPending once the activation deadline has passed. Only one
// change may be queued at a time.
type PendingEscrow struct {
	// ProposalID is the proposal that queued the change.
	ProposalID uint64
	// Amount is the new required escrow once activated.
	Amount *uint256.Int
	// ActivatesAt is when the change takes effect.
	ActivatesAt time.Time
}

// EscrowConfig is the queryable view of the escrow configuration.
type EscrowConfig struct {
	Required *uint256.Int
	Pending  *PendingEscrow
}

// ledger tracks every member's deposited escrow together with the required
// amount and any pending change to it. Amounts are unsigned 256-bit
// integers; a negative balance is not representable and any subtraction
// below zero fails.
type ledger struct {
	balances map[string]*uint256.Int
	required *uint256.Int
	pending  *PendingEscrow
}

func newLedger(required *uint256.Int) *ledger {
	return &ledger{
		balances: make(map[string]*uint256.Int),
		required: required.Clone(),
	}
}

// balanceOf returns the deposited amount for addr, zero for unknown
// addresses. The returned value is a copy.
func (l *ledger) balanceOf(addr string) *uint256.Int {
	if b, ok := l.balances[addr]; ok {
		return b.Clone()
	}
	return uint256.NewInt(0)
}

func (l *ledger) deposit(addr string, amount *uint256.Int) {
	b, ok := l.balances[addr]
	if !ok {
		b = uint256.NewInt(0)
		l.balances[addr] = b
	}
	b.Add(b, amount)
}

// withdraw removes amount from addr's balance. It fails if the balance
// would go below zero.
func (l *ledger) withdraw(addr string, amount *uint256.Int) error {
	b, ok := l.balances[addr]
	if !ok || b.Lt(amount) {
		return fmt.Errorf("%w: balance %s, withdrawing %s", ErrInsufficientEscrow, l.balanceOf(addr), amount)
	}
	b.Sub(b, amount)
	return nil
}

// drop removes the balance row entirely. Used when a member returns to
// non-membership with a zero balance.
func (l *ledger) drop(addr string) {
	delete(l.balances, addr)
}

// effectiveRequired is the threshold used for admission checks: the maximum
// of the current requirement and any pending one, so that a member paying in
// during a grace period can never end up short after activation.
func (l *ledger) effectiveRequired() *uint256.Int {
	if l.pending != nil && l.pending.Amount.Gt(l.required) {
		return l.pending.Amount.Clone()
	}
	return l.required.Clone()
}

// setRequired queues a change of the required escrow amount. Only one change
// may be pending at a time.
func (l *ledger) setRequired(amount *uint256.Int, proposalID uint64, activatesAt time.Time) error {
	if l.pending != nil {
		return fmt.Errorf("%w: proposal %d activates at %s", ErrPendingChangeExists,
			l.pending.ProposalID, l.pending.ActivatesAt.UTC().Format(time.RFC3339))
	}
	l.pending = &PendingEscrow{
		ProposalID:  proposalID,
		Amount:      amount.Clone(),
		ActivatesAt: activatesAt,
	}
	return nil
}

// applyPending activates a due pending change. It returns the change and the
// previous requirement when one was applied.
func (l *ledger) applyPending(now time.Time) (applied *PendingEscrow, previous *uint256.Int, ok bool) {
	if l.pending == nil || now.Before(l.pending.ActivatesAt) {
		return nil, nil, false
	}
	applied = l.pending
	previous = l.required
	l.required = applied.Amount.Clone()
	l.pending = nil
	return applied, previous, true
}

func (l *ledger) config() EscrowConfig {
	cfg := EscrowConfig{Required: l.required.Clone()}
	if l.pending != nil {
		p := *l.pending
		p.Amount = p.Amount.Clone()
		cfg.Pending = &p
	}
	return cfg
}

func (l *ledger) clone() *ledger {
	c := &ledger{
		balances: make(map[string]*uint256.Int, len(l.balances)),
		required: l.required.Clone(),
	}
	for addr, b := range l.balances {
		c.balances[addr] = b.Clone()
	}
	if l.pending != nil {
		p := *l.pending
		p.Amount = p.Amount.Clone()
		c.pending = &p
	}
	return c
}
