package circle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestOpenRequiresVotingMember(t *testing.T) {
	c, _, _ := newTestCircle(t, 0)
	_, _, err := c.ProposeAdd([]string{"nell"}, false)
	require.NoError(t, err)

	_, _, err = c.Open("t", "", "ghost", AddVotingMembers{Members: []string{"bob"}})
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = c.Open("t", "", "nell", AddVotingMembers{Members: []string{"bob"}})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestOpenValidatesAction(t *testing.T) {
	c, _, _ := newTestCircle(t, 0)

	tests := []struct {
		name   string
		action Action
	}{
		{name: "nil action", action: nil},
		{name: "empty add voting", action: AddVotingMembers{}},
		{name: "empty non voting edit", action: AddRemoveNonVotingMembers{}},
		{name: "empty rules edit", action: EditRules{}},
		{name: "zero escrow", action: EditRules{EscrowAmount: uint256.NewInt(0)}},
		{name: "no punishments", action: PunishMembers{}},
		{name: "portion above one", action: PunishMembers{Punishments: []Punishment{{
			Member: "bob", Portion: Full + 1, Distribution: BurnEscrow{},
		}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := c.Open("t", "", creator, tc.action)
			require.Error(t, err)
		})
	}
}

func TestSingleVoterPassesOnOpen(t *testing.T) {
	c, _, _ := newTestCircle(t, 0)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)

	status, err := c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusPassed, status)

	p, err := c.GetProposal(id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.Tally.Yes)
	require.Equal(t, uint64(1), p.Tally.TotalWeight)
}

func TestVoteFlow(t *testing.T) {
	c, _, _ := newTestCircle(t, 3)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)

	status, err := c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, status)

	require.ErrorIs(t, c.Vote(id, creator, VoteYes), ErrAlreadyVoted)
	require.ErrorIs(t, c.Vote(id, "ghost", VoteYes), ErrUnauthorized)
	require.ErrorIs(t, c.Vote(999, "member0", VoteYes), ErrNotFound)
	require.Error(t, c.Vote(id, "member0", Vote("maybe")))

	require.NoError(t, c.Vote(id, "member0", VoteAbstain))

	// Second yes meets quorum and threshold of the 4-strong snapshot, so
	// the proposal ends early.
	require.NoError(t, c.Vote(id, "member1", VoteYes))
	status, err = c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusPassed, status)

	require.ErrorIs(t, c.Vote(id, "member2", VoteYes), ErrNotOpen)

	ballot, ok, err := c.GetVote(id, "member0")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, VoteAbstain, ballot.Vote)

	_, ok, err = c.GetVote(id, "member2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVoteRejectsExpiredProposal(t *testing.T) {
	c, clk, _ := newTestCircle(t, 3)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)

	clk.advance(time.Hour)
	require.ErrorIs(t, c.Vote(id, "member0", VoteYes), ErrExpired)

	status, err := c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, status)
}

func TestProposalRejectsEarlyWhenUnwinnable(t *testing.T) {
	c, _, _ := newTestCircle(t, 3)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)

	require.NoError(t, c.Vote(id, "member0", VoteNo))
	require.NoError(t, c.Vote(id, "member1", VoteNo))
	// Even a yes from the last eligible voter cannot reach 2-of-4 anymore.
	require.NoError(t, c.Vote(id, "member2", VoteNo))

	status, err := c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, status)
}

func TestUnvotedDeparturesShrinkSnapshot(t *testing.T) {
	c, _, _ := newTestCircle(t, 9)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)
	require.NoError(t, c.Vote(id, "member0", VoteYes))
	require.NoError(t, c.Vote(id, "member1", VoteYes))
	require.NoError(t, c.Vote(id, "member2", VoteYes))

	// 4 yes of 10 falls short of the 5 needed.
	status, err := c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, status)

	// Two snapshot voters leave without voting; the denominator shrinks to
	// 8 and 4 yes votes now carry.
	_, err = c.RequestLeave("member7")
	require.NoError(t, err)
	_, err = c.RequestLeave("member8")
	require.NoError(t, err)

	status, err = c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusPassed, status)
}

func TestVotedDeparturesKeepTheirWeight(t *testing.T) {
	c, clk, _ := newTestCircle(t, 3)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)
	require.NoError(t, c.Vote(id, "member0", VoteNo))

	_, err = c.RequestLeave("member0")
	require.NoError(t, err)

	clk.advance(time.Hour)
	status, err := c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, status)

	p, err := c.GetProposal(id)
	require.NoError(t, err)
	require.Equal(t, uint64(4), p.Tally.TotalWeight)
	require.Equal(t, uint64(1), p.Tally.No)
}

func TestWithoutEndEarlyProposalWaitsForExpiry(t *testing.T) {
	clk := newClock()
	rules := testRules()
	rules.AllowEndEarly = false
	c, err := New("test-circle", uint256.NewInt(100), rules, creator, uint256.NewInt(100),
		WithClock(clk.now))
	require.NoError(t, err)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)

	status, err := c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, status)

	clk.advance(time.Hour)
	status, err = c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusPassed, status)
}

func TestClose(t *testing.T) {
	c, clk, _ := newTestCircle(t, 3)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)

	require.ErrorIs(t, c.Close(id), ErrInvalidTransition)

	clk.advance(time.Hour)
	require.NoError(t, c.Close(id))

	status, err := c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, status)

	require.ErrorIs(t, c.Close(id), ErrNotOpen)
}

func TestClosePassedProposalFails(t *testing.T) {
	c, clk, _ := newTestCircle(t, 3)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)
	require.NoError(t, c.Vote(id, "member0", VoteYes))

	clk.advance(time.Hour)
	require.ErrorIs(t, c.Close(id), ErrNotOpen)
}

func TestExecuteAddVotingMembers(t *testing.T) {
	c, _, _ := newTestCircle(t, 0)

	id, _, err := c.Open("admit", "", creator, AddVotingMembers{Members: []string{"bob", "carol"}})
	require.NoError(t, err)

	events, err := c.Execute(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// The admission batch takes over the proposal's id.
	batch, err := c.BatchStatus(id)
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "carol"}, batch.Members)
	requireStatus(t, c, "bob", Pending{})

	status, err := c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusExecuted, status)

	_, err = c.Execute(context.Background(), id)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExecuteRequiresPassed(t *testing.T) {
	c, _, _ := newTestCircle(t, 3)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), id)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = c.Execute(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExecuteFailureRestoresState(t *testing.T) {
	c, _, _ := newTestCircle(t, 0)
	_, _, err := c.ProposeAdd([]string{"nell"}, false)
	require.NoError(t, err)

	// Removing a non-existent member fails after the adds were applied;
	// the adds must not stick.
	id, _, err := c.Open("edit", "", creator, AddRemoveNonVotingMembers{
		Add:    []string{"dave"},
		Remove: []string{"ghost"},
	})
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.Member("dave")
	require.ErrorIs(t, err, ErrNotFound)

	// The proposal stays Passed and can be retried.
	status, err := c.Tally(id)
	require.NoError(t, err)
	require.Equal(t, StatusPassed, status)
}

func TestExecutePunishRevertsOnExecutorFailure(t *testing.T) {
	c, _, exec := newTestCircle(t, 1)

	id, _, err := c.Open("punish", "", creator, PunishMembers{Punishments: []Punishment{{
		Member:       "member0",
		Portion:      Percent(50),
		Distribution: BurnEscrow{},
	}}})
	require.NoError(t, err)

	exec.failNext = true
	_, err = c.Execute(context.Background(), id)
	require.Error(t, err)

	balance, err := c.Escrow("member0")
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(100), balance)
	requireStatus(t, c, "member0", Voting{})

	// Retry once the executor recovers.
	_, err = c.Execute(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []*uint256.Int{uint256.NewInt(50)}, exec.burns)
}

func TestExecuteEditRules(t *testing.T) {
	c, _, _ := newTestCircle(t, 0)

	period := 2 * time.Hour
	quorum := Percent(60)
	name := "renamed-circle"
	id, _, err := c.Open("edit", "", creator, EditRules{
		Name:         &name,
		VotingPeriod: &period,
		Quorum:       &quorum,
	})
	require.NoError(t, err)
	_, err = c.Execute(context.Background(), id)
	require.NoError(t, err)

	rules := c.VotingRules()
	require.Equal(t, period, rules.VotingPeriod)
	require.Equal(t, quorum, rules.Quorum)
	require.Equal(t, Percent(50), rules.Threshold)
	require.Equal(t, "renamed-circle", c.Name())
}

func TestExecuteEditRulesInvalidCombinationFails(t *testing.T) {
	c, _, _ := newTestCircle(t, 0)

	quorum := Fraction(0)
	id, _, err := c.Open("edit", "", creator, EditRules{Quorum: &quorum})
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), id)
	require.Error(t, err)
	require.Equal(t, Percent(50), c.VotingRules().Quorum)
}

func TestSecondPendingEscrowChangeFails(t *testing.T) {
	c, _, _ := newTestCircle(t, 0)

	open := func(amount uint64) uint64 {
		id, _, err := c.Open("edit", "", creator, EditRules{EscrowAmount: uint256.NewInt(amount)})
		require.NoError(t, err)
		return id
	}

	_, err := c.Execute(context.Background(), open(150))
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), open(200))
	require.ErrorIs(t, err, ErrPendingChangeExists)
	require.Equal(t, uint256.NewInt(150), c.EscrowConfig().Pending.Amount)
}

func TestProposalIDsAreSequential(t *testing.T) {
	c, _, _ := newTestCircle(t, 0)

	var ids []uint64
	for i := 0; i < 3; i++ {
		id, _, err := c.Open(fmt.Sprintf("p%d", i), "", creator, AddVotingMembers{Members: []string{fmt.Sprintf("m%d", i)}})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.Equal(t, []uint64{1, 2, 3}, ids)
}
