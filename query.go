package circle

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// Pagination bounds for list queries.
const (
	DefaultLimit = 10
	MaxLimit     = 30
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Member returns the full view of a single member.
func (c *Contract) Member(addr string) (Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.members[addr]
	if !ok {
		return Member{}, fmt.Errorf("%w: member %s", ErrNotFound, addr)
	}
	return c.memberView(addr, rec), nil
}

func (c *Contract) memberView(addr string, rec *memberRecord) Member {
	return Member{
		Address: addr,
		Status:  rec.status,
		Escrow:  c.escrow.balanceOf(addr),
		Weight:  weightOf(rec.status),
	}
}

// Escrow returns the member's deposited escrow balance.
func (c *Contract) Escrow(addr string) (*uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.members[addr]; !ok {
		return nil, fmt.Errorf("%w: member %s", ErrNotFound, addr)
	}
	return c.escrow.balanceOf(addr), nil
}

// ListMembers pages through all members in address order. startAfter is an
// exclusive cursor, empty for the first page.
func (c *Contract) ListMembers(startAfter string, limit int) []Member {
	return c.listMembers(startAfter, limit, func(Status) bool { return true })
}

// ListVotingMembers pages through the Voting members only.
func (c *Contract) ListVotingMembers(startAfter string, limit int) []Member {
	return c.listMembers(startAfter, limit, func(s Status) bool {
		_, voting := s.(Voting)
		return voting
	})
}

// ListNonVotingMembers pages through the NonVoting members only.
func (c *Contract) ListNonVotingMembers(startAfter string, limit int) []Member {
	return c.listMembers(startAfter, limit, func(s Status) bool {
		_, nonVoting := s.(NonVoting)
		return nonVoting
	})
}

func (c *Contract) listMembers(startAfter string, limit int, keep func(Status) bool) []Member {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit = clampLimit(limit)
	out := make([]Member, 0, limit)
	for _, addr := range sortedAddresses(c.members) {
		if startAfter != "" && addr <= startAfter {
			continue
		}
		rec := c.members[addr]
		if !keep(rec.status) {
			continue
		}
		out = append(out, c.memberView(addr, rec))
		if len(out) == limit {
			break
		}
	}
	return out
}

// TotalWeight returns the current sum of member voting weights.
func (c *Contract) TotalWeight() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalWeight
}

// EscrowConfig returns the required escrow amount and any pending change.
func (c *Contract) EscrowConfig() EscrowConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.escrow.config()
}

// VotingRules returns the rules currently in force.
func (c *Contract) VotingRules() Rules {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rules
}

// BatchStatus returns a copy of the batch with the given id.
func (c *Contract) BatchStatus(id uint64) (Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch, err := c.batches.get(id)
	if err != nil {
		return Batch{}, err
	}
	return *batch.clone(), nil
}

// GetProposal returns the proposal with a live tally view: the snapshot
// weight is shown reduced by unvoted departures without mutating the stored
// proposal.
func (c *Contract) GetProposal(id uint64) (ProposalView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[id]
	if !ok {
		return ProposalView{}, fmt.Errorf("%w: proposal %d", ErrNotFound, id)
	}
	return c.liveView(p), nil
}

// ListProposals pages through proposals in id order. startAfter is an
// exclusive cursor, zero for the first page.
func (c *Contract) ListProposals(startAfter uint64, limit int) []ProposalView {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]uint64, 0, len(c.proposals))
	for id := range c.proposals {
		if id > startAfter {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	limit = clampLimit(limit)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]ProposalView, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.liveView(c.proposals[id]))
	}
	return out
}

func (c *Contract) liveView(p *Proposal) ProposalView {
	v := p.view()
	if p.status != StatusOpen {
		return v
	}
	for addr := range p.eligible {
		rec, ok := c.members[addr]
		if ok {
			if _, voting := rec.status.(Voting); voting {
				continue
			}
		}
		v.Tally.TotalWeight -= VotingWeight
	}
	return v
}

// VoteInfo is one recorded ballot with its voter.
type VoteInfo struct {
	Voter  string
	Vote   Vote
	Weight uint64
}

// GetVote looks up one member's ballot on a proposal. ok is false when the
// member has not voted.
func (c *Contract) GetVote(proposalID uint64, voter string) (ballot Ballot, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, found := c.proposals[proposalID]
	if !found {
		return Ballot{}, false, fmt.Errorf("%w: proposal %d", ErrNotFound, proposalID)
	}
	ballot, ok = p.ballots[voter]
	return ballot, ok, nil
}

// ListVotes pages through a proposal's ballots in voter address order.
func (c *Contract) ListVotes(proposalID uint64, startAfter string, limit int) ([]VoteInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[proposalID]
	if !ok {
		return nil, fmt.Errorf("%w: proposal %d", ErrNotFound, proposalID)
	}

	voters := make([]string, 0, len(p.ballots))
	for voter := range p.ballots {
		if startAfter == "" || voter > startAfter {
			voters = append(voters, voter)
		}
	}
	sort.Strings(voters)

	limit = clampLimit(limit)
	if len(voters) > limit {
		voters = voters[:limit]
	}
	out := make([]VoteInfo, 0, len(voters))
	for _, voter := range voters {
		ballot := p.ballots[voter]
		out = append(out, VoteInfo{Voter: voter, Vote: ballot.Vote, Weight: ballot.Weight})
	}
	return out, nil
}
