package circle

import (
	"context"
	"fmt"

	"github.com/circlelabs/circle/event"
)

// Open creates a proposal. The proposer must be a Voting member and their yes
// vote is recorded immediately. The voter snapshot and the total weight are
// fixed at this point; due pending state is settled first so the snapshot
// reflects every deadline that has already passed.
func (c *Contract) Open(title, description, proposer string, action Action) (uint64, []event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.checkPending(c.now())
	c.publish(events)

	rec, ok := c.members[proposer]
	if !ok {
		return 0, nil, fmt.Errorf("%w: member %s", ErrNotFound, proposer)
	}
	if _, voting := rec.status.(Voting); !voting {
		return 0, nil, fmt.Errorf("%w: %s member %s cannot propose", ErrUnauthorized, rec.status, proposer)
	}
	if action == nil {
		return 0, nil, fmt.Errorf("missing proposal action")
	}
	if err := action.validate(); err != nil {
		return 0, nil, err
	}

	now := c.now()
	p := &Proposal{
		id:          c.nextID(),
		title:       title,
		description: description,
		proposer:    proposer,
		action:      action,
		status:      StatusOpen,
		createdAt:   now,
		expiresAt:   now.Add(c.rules.VotingPeriod),
		rules:       c.rules,
		eligible:    make(map[string]struct{}),
		ballots:     make(map[string]Ballot),
		totalWeight: c.totalWeight,
	}
	for addr, rec := range c.members {
		if _, voting := rec.status.(Voting); voting {
			p.eligible[addr] = struct{}{}
		}
	}
	p.recordVote(proposer, VoteYes)
	if c.rules.AllowEndEarly && p.passes() {
		p.status = StatusPassed
	}
	c.proposals[p.id] = p

	c.logger.Info().
		Uint64("proposal", p.id).
		Str("proposer", proposer).
		Str("title", title).
		Uint64("total_weight", p.totalWeight).
		Msg("proposal opened")
	return p.id, events, nil
}

// Vote records the voter's ballot on an open proposal. The voter must be part
// of the proposal's snapshot and still a Voting member. With AllowEndEarly
// the proposal may flip to Passed, or to Rejected once it can no longer
// possibly pass.
func (c *Contract) Vote(id uint64, voter string, v Vote) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[id]
	if !ok {
		return fmt.Errorf("%w: proposal %d", ErrNotFound, id)
	}
	if p.status != StatusOpen {
		return fmt.Errorf("%w: proposal %d is %s", ErrNotOpen, id, p.status)
	}
	if p.expired(c.now()) {
		return fmt.Errorf("%w: proposal %d", ErrExpired, id)
	}
	if !v.valid() {
		return fmt.Errorf("invalid vote value %q", v)
	}
	if _, voted := p.ballots[voter]; voted {
		return fmt.Errorf("%w: member %s on proposal %d", ErrAlreadyVoted, voter, id)
	}

	c.settleDepartures(p)
	if _, eligible := p.eligible[voter]; !eligible {
		return fmt.Errorf("%w: member %s is not eligible to vote on proposal %d", ErrUnauthorized, voter, id)
	}

	p.recordVote(voter, v)
	c.logger.Debug().
		Uint64("proposal", id).
		Str("voter", voter).
		Str("vote", string(v)).
		Uint64("yes", p.yes).
		Msg("vote recorded")

	if c.rules.AllowEndEarly {
		switch {
		case p.passes():
			p.status = StatusPassed
		case p.rejectedEarly():
			p.status = StatusRejected
		}
	}
	return nil
}

// Tally evaluates the proposal's status and returns it, flipping an open
// proposal to Passed or Rejected when the rule is decided. It never touches
// membership state.
func (c *Contract) Tally(id uint64) (ProposalStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[id]
	if !ok {
		return "", fmt.Errorf("%w: proposal %d", ErrNotFound, id)
	}
	c.evaluate(p)
	return p.status, nil
}

// evaluate settles departures and advances an open proposal's status if the
// outcome is already decided.
func (c *Contract) evaluate(p *Proposal) {
	if p.status != StatusOpen {
		return
	}
	c.settleDepartures(p)
	if p.expired(c.now()) {
		if p.passes() {
			p.status = StatusPassed
		} else {
			p.status = StatusRejected
		}
		return
	}
	if p.rules.AllowEndEarly {
		switch {
		case p.passes():
			p.status = StatusPassed
		case p.rejectedEarly():
			p.status = StatusRejected
		}
	}
}

// settleDepartures removes snapshot voters that left without voting and
// shrinks the proposal's total weight accordingly. Members that voted before
// leaving keep their ballots and their share of the weight.
func (c *Contract) settleDepartures(p *Proposal) {
	for addr := range p.eligible {
		rec, ok := c.members[addr]
		if ok {
			if _, voting := rec.status.(Voting); voting {
				continue
			}
		}
		delete(p.eligible, addr)
		p.totalWeight -= VotingWeight
	}
}

// Execute applies a passed proposal's action. The action either applies in
// full or not at all: on any failure the prior membership, escrow and batch
// state is restored and the proposal stays Passed.
func (c *Contract) Execute(ctx context.Context, id uint64) ([]event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: proposal %d", ErrNotFound, id)
	}
	c.evaluate(p)
	if p.status != StatusPassed {
		return nil, fmt.Errorf("%w: proposal %d is %s, not passed", ErrInvalidTransition, id, p.status)
	}

	saved := c.snapshotState()
	events, err := c.applyAction(ctx, p)
	if err != nil {
		c.restoreState(saved)
		return nil, fmt.Errorf("executing proposal %d: %w", id, err)
	}
	p.status = StatusExecuted

	c.logger.Info().
		Uint64("proposal", id).
		Int("events", len(events)).
		Msg("proposal executed")
	c.publish(events)
	return events, nil
}

func (c *Contract) applyAction(ctx context.Context, p *Proposal) ([]event.Event, error) {
	switch a := p.action.(type) {
	case AddVotingMembers:
		// The admission batch takes over the proposal's id.
		_, events, err := c.addVotingMembers(p.id, a.Members)
		return events, err

	case AddRemoveNonVotingMembers:
		var events []event.Event
		if len(a.Add) > 0 {
			events = append(events, c.addNonVotingMembers(a.Add)...)
		}
		if len(a.Remove) > 0 {
			removed, err := c.removeNonVotingMembers(a.Remove)
			if err != nil {
				return nil, err
			}
			events = append(events, removed...)
		}
		return events, nil

	case EditRules:
		return nil, c.applyRulesEdit(p.id, a)

	case PunishMembers:
		var events []event.Event
		for _, punishment := range a.Punishments {
			evs, err := c.applyPunishment(ctx, punishment)
			if err != nil {
				return nil, err
			}
			events = append(events, evs...)
		}
		return events, nil

	default:
		return nil, fmt.Errorf("unknown proposal action %T", p.action)
	}
}

// applyRulesEdit applies an EditRules action. Rule changes take effect
// immediately for future proposals; an escrow amount change is queued with a
// one-voting-period grace before activation.
func (c *Contract) applyRulesEdit(proposalID uint64, a EditRules) error {
	updated := c.rules
	if a.VotingPeriod != nil {
		updated.VotingPeriod = *a.VotingPeriod
	}
	if a.Quorum != nil {
		updated.Quorum = *a.Quorum
	}
	if a.Threshold != nil {
		updated.Threshold = *a.Threshold
	}
	if a.AllowEndEarly != nil {
		updated.AllowEndEarly = *a.AllowEndEarly
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	if a.EscrowAmount != nil {
		activatesAt := c.now().Add(updated.VotingPeriod)
		if err := c.escrow.setRequired(a.EscrowAmount, proposalID, activatesAt); err != nil {
			return err
		}
	}
	if a.Name != nil {
		c.name = *a.Name
	}
	c.rules = updated
	return nil
}

// Close sweeps an expired proposal that did not pass, marking it Closed.
// Closing before expiry or closing a proposal that passed is invalid.
func (c *Contract) Close(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[id]
	if !ok {
		return fmt.Errorf("%w: proposal %d", ErrNotFound, id)
	}
	if p.status != StatusOpen {
		return fmt.Errorf("%w: proposal %d is %s", ErrNotOpen, id, p.status)
	}
	if !p.expired(c.now()) {
		return fmt.Errorf("%w: proposal %d has not expired", ErrInvalidTransition, id)
	}
	c.settleDepartures(p)
	if p.passes() {
		return fmt.Errorf("%w: proposal %d passed and must be executed", ErrInvalidTransition, id)
	}
	p.status = StatusClosed
	return nil
}
