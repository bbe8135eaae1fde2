package circle

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	// StatusOpen proposals accept votes until expiry.
	StatusOpen ProposalStatus = "open"
	// StatusPassed proposals satisfied quorum and threshold and await
	// execution.
	StatusPassed ProposalStatus = "passed"
	// StatusRejected proposals failed the rule at expiry.
	StatusRejected ProposalStatus = "rejected"
	// StatusExecuted proposals have had their action applied.
	StatusExecuted ProposalStatus = "executed"
	// StatusClosed proposals expired and were swept without passing.
	StatusClosed ProposalStatus = "closed"
)

// Vote is a single cast vote value.
type Vote string

const (
	VoteYes     Vote = "yes"
	VoteNo      Vote = "no"
	VoteAbstain Vote = "abstain"
)

func (v Vote) valid() bool {
	switch v {
	case VoteYes, VoteNo, VoteAbstain:
		return true
	}
	return false
}

// Action is the content of a proposal: what executing it does. It is a closed
// enumeration; each variant validates itself before a proposal opens.
type Action interface {
	isAction()
	validate() error
}

type (
	// AddVotingMembers admits the listed addresses as Pending voters in one
	// shared batch on execution.
	AddVotingMembers struct {
		Members []string
	}

	// AddRemoveNonVotingMembers admits and removes non-voting members.
	AddRemoveNonVotingMembers struct {
		Add    []string
		Remove []string
	}

	// EditRules updates the circle's configuration. Nil fields stay
	// unchanged. A new escrow amount does not apply immediately: it becomes
	// the pending change with a one-voting-period grace before activation.
	EditRules struct {
		Name          *string
		EscrowAmount  *uint256.Int
		VotingPeriod  *time.Duration
		Quorum        *Fraction
		Threshold     *Fraction
		AllowEndEarly *bool
	}

	// PunishMembers applies the listed punishments in order.
	PunishMembers struct {
		Punishments []Punishment
	}
)

func (AddVotingMembers) isAction()          {}
func (AddRemoveNonVotingMembers) isAction() {}
func (EditRules) isAction()                 {}
func (PunishMembers) isAction()             {}

func (a AddVotingMembers) validate() error {
	if len(a.Members) == 0 {
		return errors.New("no members to add")
	}
	return nil
}

func (a AddRemoveNonVotingMembers) validate() error {
	if len(a.Add) == 0 && len(a.Remove) == 0 {
		return errors.New("no members to add or remove")
	}
	return nil
}

func (a EditRules) validate() error {
	if a.Name == nil && a.EscrowAmount == nil && a.VotingPeriod == nil &&
		a.Quorum == nil && a.Threshold == nil && a.AllowEndEarly == nil {
		return errors.New("empty rules edit")
	}
	if a.Name != nil && *a.Name == "" {
		return errors.New("circle name cannot be empty")
	}
	if a.EscrowAmount != nil && a.EscrowAmount.IsZero() {
		return errors.New("required escrow must be positive")
	}
	return nil
}

func (a PunishMembers) validate() error {
	if len(a.Punishments) == 0 {
		return errors.New("no punishments")
	}
	for _, p := range a.Punishments {
		if err := p.validate(); err != nil {
			return fmt.Errorf("punish %s: %w", p.Member, err)
		}
	}
	return nil
}

// Ballot is one member's recorded vote, carrying the weight the member had
// when it was cast.
type Ballot struct {
	Vote   Vote
	Weight uint64
}

// TallyView is the live count of a proposal's votes against its snapshot
// weight.
type TallyView struct {
	Yes         uint64
	No          uint64
	Abstain     uint64
	TotalWeight uint64
}

// Proposal is a stored proposal. The voter snapshot and the vote counts are
// fixed at creation and only adjusted as snapshot voters depart without
// voting.
type Proposal struct {
	id          uint64
	title       string
	description string
	proposer    string
	action      Action
	status      ProposalStatus
	createdAt   time.Time
	expiresAt   time.Time
	// rules snapshots the voting rules in force when the proposal opened.
	rules Rules

	// eligible holds the snapshot voters that have neither voted nor been
	// settled as departed yet.
	eligible map[string]struct{}
	ballots  map[string]Ballot

	yes         uint64
	no          uint64
	abstain     uint64
	totalWeight uint64
}

func (p *Proposal) expired(now time.Time) bool {
	return !now.Before(p.expiresAt)
}

// passes evaluates the simplified pass rule against the current counts.
func (p *Proposal) passes() bool {
	return p.yes >= votesNeeded(p.totalWeight, p.rules.Quorum) &&
		p.yes >= votesNeeded(p.totalWeight, p.rules.Threshold)
}

// rejectedEarly reports whether the rule can no longer be satisfied even if
// every remaining eligible voter votes yes.
func (p *Proposal) rejectedEarly() bool {
	remaining := uint64(len(p.eligible))
	possibleYes := p.yes + remaining
	return possibleYes < votesNeeded(p.totalWeight, p.rules.Quorum) ||
		possibleYes < votesNeeded(p.totalWeight, p.rules.Threshold)
}

func (p *Proposal) recordVote(voter string, v Vote) {
	delete(p.eligible, voter)
	p.ballots[voter] = Ballot{Vote: v, Weight: VotingWeight}
	switch v {
	case VoteYes:
		p.yes += VotingWeight
	case VoteNo:
		p.no += VotingWeight
	case VoteAbstain:
		p.abstain += VotingWeight
	}
}

// ProposalView is the queryable snapshot of a proposal.
type ProposalView struct {
	ID          uint64
	Title       string
	Description string
	Proposer    string
	Action      Action
	Status      ProposalStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Rules       Rules
	Tally       TallyView
}

func (p *Proposal) view() ProposalView {
	return ProposalView{
		ID:          p.id,
		Title:       p.title,
		Description: p.description,
		Proposer:    p.proposer,
		Action:      p.action,
		Status:      p.status,
		CreatedAt:   p.createdAt,
		ExpiresAt:   p.expiresAt,
		Rules:       p.rules,
		Tally: TallyView{
			Yes:         p.yes,
			No:          p.no,
			Abstain:     p.abstain,
			TotalWeight: p.totalWeight,
		},
	}
}
