package circle

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/circlelabs/circle/event"
)

// Distribution says where a slashed escrow portion goes.
type Distribution interface {
	isDistribution()
	validate() error
}

// BurnEscrow destroys the slashed amount.
type BurnEscrow struct{}

// DistributeEscrow splits the slashed amount equally among the recipients.
// The integer division remainder stays in the punished member's escrow.
type DistributeEscrow struct {
	Recipients []string
}

func (BurnEscrow) isDistribution()       {}
func (DistributeEscrow) isDistribution() {}

func (BurnEscrow) validate() error { return nil }

func (d DistributeEscrow) validate() error {
	if len(d.Recipients) == 0 {
		return errors.New("no distribution recipients")
	}
	return nil
}

// Punishment slashes a portion of a member's escrow and optionally expels
// them. A zero portion with KickOut set is a pure expulsion.
type Punishment struct {
	Member  string
	Portion Fraction
	// KickOut removes the member entirely, refunding whatever escrow the
	// slash left behind.
	KickOut      bool
	Distribution Distribution
}

func (p Punishment) validate() error {
	if p.Member == "" {
		return errors.New("missing member")
	}
	if p.Portion > Full {
		return fmt.Errorf("%w: %s", ErrInvalidPortion, p.Portion)
	}
	if p.Distribution == nil {
		return errors.New("missing distribution")
	}
	return p.Distribution.validate()
}

// Punish applies a single punishment directly. It either applies in full or
// not at all. Punishments normally arrive through a PunishMembers proposal;
// this entry point exists for hosts that gate punishment elsewhere.
func (c *Contract) Punish(ctx context.Context, p Punishment) ([]event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := p.validate(); err != nil {
		return nil, err
	}
	saved := c.snapshotState()
	events, err := c.applyPunishment(ctx, p)
	if err != nil {
		c.restoreState(saved)
		return nil, err
	}
	c.publish(events)
	return events, nil
}

func (c *Contract) applyPunishment(ctx context.Context, p Punishment) ([]event.Event, error) {
	rec, ok := c.members[p.Member]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", ErrNotFound, p.Member)
	}
	if _, nonVoting := rec.status.(NonVoting); nonVoting {
		return nil, fmt.Errorf("%w: non-voting member %s holds no escrow to punish", ErrInvalidTransition, p.Member)
	}

	slashed := portionOf(c.escrow.balanceOf(p.Member), p.Portion)
	if !slashed.IsZero() {
		if err := c.escrow.withdraw(p.Member, slashed); err != nil {
			return nil, err
		}
		switch dist := p.Distribution.(type) {
		case BurnEscrow:
			if err := c.executor.Burn(ctx, slashed); err != nil {
				return nil, fmt.Errorf("burning slashed escrow: %w", err)
			}
		case DistributeEscrow:
			if err := c.distributeSlash(ctx, p.Member, slashed, dist.Recipients); err != nil {
				return nil, err
			}
		}
	}

	_, burned := p.Distribution.(BurnEscrow)
	var recipients []string
	if dist, ok := p.Distribution.(DistributeEscrow); ok {
		recipients = dist.Recipients
	}
	events := []event.Event{c.newEvent(EventPunishment, PunishmentEvent{
		Member:     p.Member,
		Portion:    p.Portion,
		Slashed:    slashed,
		Burned:     burned,
		Recipients: recipients,
		KickOut:    p.KickOut,
	})}
	c.logger.Info().
		Str("member", p.Member).
		Str("portion", p.Portion.String()).
		Str("slashed", slashed.String()).
		Bool("kick_out", p.KickOut).
		Msg("member punished")

	if p.KickOut {
		evs, err := c.expel(ctx, p.Member, rec)
		if err != nil {
			return nil, err
		}
		return append(events, evs...), nil
	}
	if p.Portion > 0 {
		events = append(events, c.demoteAfterSlash(p.Member, rec)...)
	}
	return events, nil
}

// distributeSlash splits the slashed amount equally among the recipients and
// returns the division remainder to the punished member.
func (c *Contract) distributeSlash(ctx context.Context, member string, slashed *uint256.Int, recipients []string) error {
	n := uint256.NewInt(uint64(len(recipients)))
	share := new(uint256.Int).Div(slashed, n)
	if share.IsZero() {
		c.escrow.deposit(member, slashed)
		return nil
	}
	for _, recipient := range recipients {
		if err := c.executor.Send(ctx, recipient, share); err != nil {
			return fmt.Errorf("distributing slashed escrow to %s: %w", recipient, err)
		}
	}
	distributed := new(uint256.Int).Mul(share, n)
	if remainder := new(uint256.Int).Sub(slashed, distributed); !remainder.IsZero() {
		c.escrow.deposit(member, remainder)
	}
	return nil
}

// expel removes the member entirely, refunding whatever escrow the slash
// left behind.
func (c *Contract) expel(ctx context.Context, addr string, rec *memberRecord) ([]event.Event, error) {
	switch s := rec.status.(type) {
	case Pending:
		c.batches.detach(s.BatchID, addr, false)
	case PendingPaid:
		c.batches.detach(s.BatchID, addr, true)
	case Voting:
		c.totalWeight -= VotingWeight
	}

	var events []event.Event
	remaining := c.escrow.balanceOf(addr)
	if !remaining.IsZero() {
		if err := c.executor.Send(ctx, addr, remaining); err != nil {
			return nil, fmt.Errorf("refunding remaining escrow: %w", err)
		}
		events = append(events, c.newEvent(EventEscrowReturned, EscrowReturnedEvent{Member: addr, Amount: remaining}))
	}
	c.escrow.drop(addr)
	delete(c.members, addr)
	events = append(events, c.newEvent(EventLeave, LeaveEvent{Member: addr, Kind: LeaveImmediate}))
	return events, nil
}

// demoteAfterSlash strips a slashed member's standing. A Voting member is
// always demoted to a fresh single-member batch; a PendingPaid member falls
// back to Pending in its batch only when the slash took them below the
// effective requirement.
func (c *Contract) demoteAfterSlash(addr string, rec *memberRecord) []event.Event {
	switch s := rec.status.(type) {
	case Voting:
		id := c.nextID()
		if _, err := c.batches.create(id, []string{addr}, c.now().Add(c.rules.VotingPeriod)); err != nil {
			return nil
		}
		rec.status = Pending{BatchID: id}
		c.totalWeight -= VotingWeight
		return []event.Event{c.newEvent(EventDemoted, DemotedEvent{Member: addr, BatchID: id})}
	case PendingPaid:
		if !c.escrow.balanceOf(addr).Lt(c.escrow.effectiveRequired()) {
			return nil
		}
		rec.status = Pending{BatchID: s.BatchID}
		if err := c.batches.unmarkPaid(s.BatchID); err != nil {
			return nil
		}
		return []event.Event{c.newEvent(EventDemoted, DemotedEvent{Member: addr, BatchID: s.BatchID})}
	}
	return nil
}
