package circle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/circlelabs/circle/event"
)

// ProposeAdd admits addresses to the circle. With voting set, new and
// non-voting members become Pending voters grouped in a single fresh batch
// whose grace period is one voting period; addresses already on the voting
// track are skipped. Without voting, unknown addresses join as non-voting
// members. It returns the id of the created batch, zero when no batch was
// needed.
func (c *Contract) ProposeAdd(addrs []string, voting bool) (uint64, []event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(addrs) == 0 {
		return 0, nil, errors.New("no members to add")
	}

	var (
		batchID uint64
		events  []event.Event
		err     error
	)
	if voting {
		batchID, events, err = c.addVotingMembers(c.nextID(), addrs)
	} else {
		events = c.addNonVotingMembers(addrs)
	}
	if err != nil {
		return 0, nil, err
	}
	c.publish(events)
	return batchID, events, nil
}

// addVotingMembers starts the admission of addrs as voters under the given
// batch id. Addresses that are already Pending, PendingPaid, Voting or
// Leaving are skipped.
func (c *Contract) addVotingMembers(id uint64, addrs []string) (uint64, []event.Event, error) {
	var admitted []string
	for _, addr := range addrs {
		rec, ok := c.members[addr]
		if ok {
			if _, nonVoting := rec.status.(NonVoting); !nonVoting {
				continue
			}
		}
		admitted = append(admitted, addr)
	}
	if len(admitted) == 0 {
		return 0, nil, nil
	}

	graceEndsAt := c.now().Add(c.rules.VotingPeriod)
	batch, err := c.batches.create(id, admitted, graceEndsAt)
	if err != nil {
		return 0, nil, err
	}
	for _, addr := range admitted {
		c.members[addr] = &memberRecord{status: Pending{BatchID: id}}
	}

	c.logger.Info().
		Uint64("batch", id).
		Int("members", len(admitted)).
		Time("grace_ends_at", batch.GraceEndsAt).
		Msg("voting members proposed")
	evt := c.newEvent(EventProposeVoting, ProposeVotingEvent{BatchID: id, Members: admitted})
	return id, []event.Event{evt}, nil
}

// addNonVotingMembers admits unknown addresses as non-voting members.
func (c *Contract) addNonVotingMembers(addrs []string) []event.Event {
	var added []string
	for _, addr := range addrs {
		if _, ok := c.members[addr]; ok {
			continue
		}
		c.members[addr] = &memberRecord{status: NonVoting{}}
		added = append(added, addr)
	}
	if len(added) == 0 {
		return nil
	}
	return []event.Event{c.newEvent(EventAddNonVoting, AddNonVotingEvent{Members: added})}
}

// removeNonVotingMembers removes the listed non-voting members. Every target
// must currently be NonVoting.
func (c *Contract) removeNonVotingMembers(addrs []string) ([]event.Event, error) {
	for _, addr := range addrs {
		rec, ok := c.members[addr]
		if !ok {
			return nil, fmt.Errorf("%w: member %s", ErrNotFound, addr)
		}
		if _, nonVoting := rec.status.(NonVoting); !nonVoting {
			return nil, fmt.Errorf("%w: cannot remove %s member %s", ErrInvalidTransition, rec.status, addr)
		}
	}
	for _, addr := range addrs {
		delete(c.members, addr)
	}
	return []event.Event{c.newEvent(EventRemoveNonVoting, RemoveNonVotingEvent{Members: addrs})}, nil
}

// PayEscrow deposits amount into the member's escrow. Pending members
// reaching the effective requirement advance to PendingPaid; when that
// completes or catches up with their batch they may be promoted to Voting in
// the same call. Any due pending state is settled first.
func (c *Contract) PayEscrow(addr string, amount *uint256.Int) ([]event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if amount == nil || amount.IsZero() {
		return nil, errors.New("deposit must be positive")
	}

	// Pending state settled here stays settled even if the deposit below
	// is rejected.
	events := c.checkPending(c.now())
	c.publish(events)

	rec, ok := c.members[addr]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", ErrNotFound, addr)
	}
	switch rec.status.(type) {
	case Pending, PendingPaid, Voting:
	default:
		return nil, fmt.Errorf("%w: %s member %s cannot deposit escrow", ErrInvalidTransition, rec.status, addr)
	}

	c.escrow.deposit(addr, amount)
	c.logger.Debug().
		Str("member", addr).
		Str("amount", amount.String()).
		Str("balance", c.escrow.balanceOf(addr).String()).
		Msg("escrow deposited")

	if pending, isPending := rec.status.(Pending); isPending &&
		!c.escrow.balanceOf(addr).Lt(c.escrow.effectiveRequired()) {
		batch, err := c.batches.get(pending.BatchID)
		if err != nil {
			return nil, err
		}
		rec.status = PendingPaid{BatchID: batch.ID}
		if err := c.batches.markPaid(batch.ID); err != nil {
			return nil, err
		}
		var promoted []event.Event
		switch {
		case batch.Promoted:
			// Straggler paying after the batch finalized goes straight
			// to Voting.
			promoted = append(promoted, c.promoteMember(addr, batch))
		case batch.finalizable(c.now()):
			promoted = c.promoteBatch(batch)
		}
		c.publish(promoted)
		events = append(events, promoted...)
	}
	return events, nil
}

// ReturnEscrow sends amount of the member's escrow back to them. Voting and
// PendingPaid members may only draw down to the effective requirement;
// Pending members may withdraw freely. Leaving members claim through
// ClaimAfterLeave instead.
func (c *Contract) ReturnEscrow(ctx context.Context, addr string, amount *uint256.Int) ([]event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if amount == nil || amount.IsZero() {
		return nil, errors.New("refund must be positive")
	}
	rec, ok := c.members[addr]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", ErrNotFound, addr)
	}

	floor := uint256.NewInt(0)
	switch rec.status.(type) {
	case Voting, PendingPaid:
		floor = c.escrow.effectiveRequired()
	case Pending:
	default:
		return nil, fmt.Errorf("%w: %s member %s cannot withdraw escrow", ErrInvalidTransition, rec.status, addr)
	}

	balance := c.escrow.balanceOf(addr)
	refundable := new(uint256.Int)
	if balance.Gt(floor) {
		refundable.Sub(balance, floor)
	}
	if amount.Gt(refundable) {
		return nil, fmt.Errorf("%w: refundable %s, requested %s", ErrInsufficientEscrow, refundable, amount)
	}

	if err := c.escrow.withdraw(addr, amount); err != nil {
		return nil, err
	}
	if err := c.executor.Send(ctx, addr, amount); err != nil {
		c.escrow.deposit(addr, amount)
		return nil, fmt.Errorf("sending escrow refund: %w", err)
	}

	events := []event.Event{c.newEvent(EventEscrowReturned, EscrowReturnedEvent{Member: addr, Amount: amount.Clone()})}
	c.publish(events)
	return events, nil
}

// CheckPending settles all due deadlines: an activated pending escrow change
// first, then every batch whose grace period has elapsed or whose members
// have all paid. It is idempotent and also runs implicitly at the start of
// Open and PayEscrow.
func (c *Contract) CheckPending() ([]event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.checkPending(c.now())
	c.publish(events)
	return events, nil
}

func (c *Contract) checkPending(now time.Time) []event.Event {
	events := c.applyPendingEscrow(now)
	for _, id := range c.batches.ids() {
		batch, err := c.batches.get(id)
		if err != nil || batch.Promoted {
			continue
		}
		if batch.finalizable(now) {
			events = append(events, c.promoteBatch(batch)...)
		}
	}
	return events
}

// applyPendingEscrow activates a due required-escrow change and reconciles
// every member against the new requirement. An increase demotes short
// members; a decrease lets Pending members that already qualify advance.
func (c *Contract) applyPendingEscrow(now time.Time) []event.Event {
	applied, previous, ok := c.escrow.applyPending(now)
	if !ok {
		return nil
	}
	c.logger.Info().
		Str("required", applied.Amount.String()).
		Str("previous", previous.String()).
		Uint64("proposal", applied.ProposalID).
		Msg("pending escrow change activated")

	var events []event.Event
	if applied.Amount.Gt(previous) {
		for _, addr := range sortedAddresses(c.members) {
			rec := c.members[addr]
			if !c.escrow.balanceOf(addr).Lt(applied.Amount) {
				continue
			}
			switch s := rec.status.(type) {
			case Voting:
				// Short voters fall back to Pending with their own fresh
				// grace period to top up.
				id := c.nextID()
				if _, err := c.batches.create(id, []string{addr}, now.Add(c.rules.VotingPeriod)); err != nil {
					continue
				}
				rec.status = Pending{BatchID: id}
				c.totalWeight -= VotingWeight
				events = append(events, c.newEvent(EventDemoted, DemotedEvent{Member: addr, BatchID: id}))
			case PendingPaid:
				rec.status = Pending{BatchID: s.BatchID}
				if err := c.batches.unmarkPaid(s.BatchID); err == nil {
					events = append(events, c.newEvent(EventDemoted, DemotedEvent{Member: addr, BatchID: s.BatchID}))
				}
			}
		}
		return events
	}

	promoted := make(map[uint64][]string)
	for _, addr := range sortedAddresses(c.members) {
		rec := c.members[addr]
		pending, isPending := rec.status.(Pending)
		if !isPending || c.escrow.balanceOf(addr).Lt(applied.Amount) {
			continue
		}
		rec.status = PendingPaid{BatchID: pending.BatchID}
		if err := c.batches.markPaid(pending.BatchID); err != nil {
			continue
		}
		promoted[pending.BatchID] = append(promoted[pending.BatchID], addr)
	}
	for _, id := range c.batches.ids() {
		if members, ok := promoted[id]; ok {
			events = append(events, c.newEvent(EventPromoted, PromotedEvent{BatchID: id, Members: members}))
		}
	}
	return events
}

// promoteBatch finalizes a batch: every PendingPaid member becomes Voting.
// Pending stragglers stay in the batch marked promoted so a later payment
// promotes them individually; a batch left with no members is deleted.
func (c *Contract) promoteBatch(batch *Batch) []event.Event {
	var promoted []string
	remaining := batch.Members[:0:0]
	for _, addr := range batch.Members {
		rec, ok := c.members[addr]
		if !ok {
			continue
		}
		if _, paid := rec.status.(PendingPaid); paid {
			rec.status = Voting{}
			c.totalWeight += VotingWeight
			promoted = append(promoted, addr)
			continue
		}
		remaining = append(remaining, addr)
	}
	batch.Members = remaining
	if len(batch.Members) == 0 {
		c.batches.remove(batch.ID)
	} else {
		batch.Promoted = true
	}
	if len(promoted) == 0 {
		return nil
	}
	c.logger.Info().
		Uint64("batch", batch.ID).
		Int("promoted", len(promoted)).
		Uint64("total_weight", c.totalWeight).
		Msg("batch promoted")
	return []event.Event{c.newEvent(EventPromoted, PromotedEvent{BatchID: batch.ID, Members: promoted})}
}

// promoteMember promotes a single straggler of an already finalized batch.
func (c *Contract) promoteMember(addr string, batch *Batch) event.Event {
	c.members[addr].status = Voting{}
	c.totalWeight += VotingWeight
	batch.removeMember(addr)
	if len(batch.Members) == 0 {
		c.batches.remove(batch.ID)
	}
	return c.newEvent(EventPromoted, PromotedEvent{BatchID: batch.ID, Members: []string{addr}})
}

// RequestLeave starts the member's departure. Members without locked funds
// leave at once; everyone else becomes Leaving with their escrow locked for
// two voting periods. A Voting leaver stops counting toward the total weight
// immediately.
func (c *Contract) RequestLeave(addr string) ([]event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.members[addr]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", ErrNotFound, addr)
	}

	var events []event.Event
	switch s := rec.status.(type) {
	case NonVoting:
		delete(c.members, addr)
		events = append(events, c.newEvent(EventLeave, LeaveEvent{Member: addr, Kind: LeaveImmediate}))
	case Pending:
		c.batches.detach(s.BatchID, addr, false)
		if c.escrow.balanceOf(addr).IsZero() {
			c.escrow.drop(addr)
			delete(c.members, addr)
			events = append(events, c.newEvent(EventLeave, LeaveEvent{Member: addr, Kind: LeaveImmediate}))
			break
		}
		events = append(events, c.startDelayedLeave(addr, rec))
	case PendingPaid:
		c.batches.detach(s.BatchID, addr, true)
		events = append(events, c.startDelayedLeave(addr, rec))
	case Voting:
		c.totalWeight -= VotingWeight
		events = append(events, c.startDelayedLeave(addr, rec))
	case Leaving:
		return nil, fmt.Errorf("%w: member %s is already leaving", ErrInvalidTransition, addr)
	}

	c.publish(events)
	return events, nil
}

func (c *Contract) startDelayedLeave(addr string, rec *memberRecord) event.Event {
	claimAt := c.now().Add(2 * c.rules.VotingPeriod)
	rec.status = Leaving{ClaimAt: claimAt}
	c.logger.Info().
		Str("member", addr).
		Time("claim_at", claimAt).
		Msg("member leaving")
	return c.newEvent(EventLeave, LeaveEvent{Member: addr, Kind: LeaveDelayed, ClaimAt: claimAt})
}

// ClaimAfterLeave pays a Leaving member their full escrow back once the
// claim deadline has passed and removes them from the circle.
func (c *Contract) ClaimAfterLeave(ctx context.Context, addr string) ([]event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.members[addr]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", ErrNotFound, addr)
	}
	leaving, isLeaving := rec.status.(Leaving)
	if !isLeaving {
		return nil, fmt.Errorf("%w: %s member %s has nothing to claim", ErrInvalidTransition, rec.status, addr)
	}
	if c.now().Before(leaving.ClaimAt) {
		return nil, fmt.Errorf("%w: claim available at %s", ErrInvalidTransition, leaving.ClaimAt.UTC().Format(time.RFC3339))
	}

	balance := c.escrow.balanceOf(addr)
	if !balance.IsZero() {
		if err := c.executor.Send(ctx, addr, balance); err != nil {
			return nil, fmt.Errorf("sending escrow refund: %w", err)
		}
	}
	c.escrow.drop(addr)
	delete(c.members, addr)

	c.logger.Info().
		Str("member", addr).
		Str("refunded", balance.String()).
		Msg("leave claimed")
	events := []event.Event{c.newEvent(EventEscrowReturned, EscrowReturnedEvent{Member: addr, Amount: balance})}
	c.publish(events)
	return events, nil
}
