package circle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListMembersPagination(t *testing.T) {
	c, _, _ := newTestCircle(t, 0)

	addrs := make([]string, 25)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("nv%02d", i)
	}
	_, _, err := c.ProposeAdd(addrs, false)
	require.NoError(t, err)

	// Default page size.
	page := c.ListMembers("", 0)
	require.Len(t, page, DefaultLimit)
	require.Equal(t, creator, page[0].Address)
	require.Equal(t, "nv00", page[1].Address)

	// Cursor is exclusive.
	page = c.ListMembers(page[len(page)-1].Address, 0)
	require.Len(t, page, DefaultLimit)
	require.Equal(t, "nv09", page[0].Address)

	// Limit is capped.
	page = c.ListMembers("", 100)
	require.Len(t, page, 26)
}

func TestListMembersByStatus(t *testing.T) {
	c, _, _ := newTestCircle(t, 2)
	_, _, err := c.ProposeAdd([]string{"nell", "omar"}, false)
	require.NoError(t, err)
	_, _, err = c.ProposeAdd([]string{"pending1"}, true)
	require.NoError(t, err)

	voting := c.ListVotingMembers("", 0)
	require.Len(t, voting, 3)
	for _, m := range voting {
		require.IsType(t, Voting{}, m.Status)
		require.Equal(t, VotingWeight, m.Weight)
	}

	nonVoting := c.ListNonVotingMembers("", 0)
	require.Len(t, nonVoting, 2)
	for _, m := range nonVoting {
		require.Zero(t, m.Weight)
	}

	all := c.ListMembers("", 30)
	require.Len(t, all, 6)
}

func TestListProposalsPagination(t *testing.T) {
	c, _, _ := newTestCircle(t, 0)

	for i := 0; i < 12; i++ {
		_, _, err := c.Open(fmt.Sprintf("p%d", i), "", creator,
			AddVotingMembers{Members: []string{fmt.Sprintf("m%d", i)}})
		require.NoError(t, err)
	}

	page := c.ListProposals(0, 0)
	require.Len(t, page, DefaultLimit)
	require.Equal(t, uint64(1), page[0].ID)

	page = c.ListProposals(page[len(page)-1].ID, 0)
	require.Len(t, page, 2)
	require.Equal(t, uint64(11), page[0].ID)
}

func TestGetProposalLiveViewIsPure(t *testing.T) {
	c, _, _ := newTestCircle(t, 3)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)

	_, err = c.RequestLeave("member0")
	require.NoError(t, err)

	// The view shows the reduced weight without settling the stored
	// proposal.
	p, err := c.GetProposal(id)
	require.NoError(t, err)
	require.Equal(t, uint64(3), p.Tally.TotalWeight)
	require.Equal(t, StatusOpen, p.Status)

	p, err = c.GetProposal(id)
	require.NoError(t, err)
	require.Equal(t, uint64(3), p.Tally.TotalWeight)
}

func TestListVotes(t *testing.T) {
	c, _, _ := newTestCircle(t, 3)

	id, _, err := c.Open("t", "", creator, AddVotingMembers{Members: []string{"bob"}})
	require.NoError(t, err)
	require.NoError(t, c.Vote(id, "member0", VoteNo))

	votes, err := c.ListVotes(id, "", 0)
	require.NoError(t, err)
	require.Equal(t, []VoteInfo{
		{Voter: creator, Vote: VoteYes, Weight: 1},
		{Voter: "member0", Vote: VoteNo, Weight: 1},
	}, votes)

	votes, err = c.ListVotes(id, creator, 0)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	require.Equal(t, "member0", votes[0].Voter)

	_, err = c.ListVotes(999, "", 0)
	require.ErrorIs(t, err, ErrNotFound)
}
