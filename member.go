package circle

import (
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"
)

// VotingWeight is the weight every full voting member carries. The circle is
// egalitarian: one member, one vote.
const VotingWeight uint64 = 1

// Status is the membership status of an address. Exactly one variant applies
// at a time and each variant carries only the fields that are meaningful for
// it, so an impossible combination, such as a leaving deadline on a voting
// member, cannot be represented. An address with no record at all is a
// non-member.
type Status interface {
	fmt.Stringer
	isStatus()
}

type (
	// NonVoting members belong to the circle but carry no voting weight
	// and never hold escrow.
	NonVoting struct{}

	// Pending members have been approved as voters but have not yet paid
	// the required escrow in full. BatchID references their admission
	// cohort.
	Pending struct {
		BatchID uint64
	}

	// PendingPaid members have paid the required escrow and are waiting
	// for the rest of their batch to finalize.
	PendingPaid struct {
		BatchID uint64
	}

	// Voting members hold full voting rights.
	Voting struct{}

	// Leaving members have announced their departure. Their escrow stays
	// locked until ClaimAt.
	Leaving struct {
		ClaimAt time.Time
	}
)

func (NonVoting) isStatus()   {}
func (Pending) isStatus()     {}
func (PendingPaid) isStatus() {}
func (Voting) isStatus()      {}
func (Leaving) isStatus()     {}

func (NonVoting) String() string   { return "non_voting" }
func (Pending) String() string     { return "pending" }
func (PendingPaid) String() string { return "pending_paid" }
func (Voting) String() string      { return "voting" }
func (Leaving) String() string     { return "leaving" }

func weightOf(s Status) uint64 {
	if _, ok := s.(Voting); ok {
		return VotingWeight
	}
	return 0
}

// memberRecord is the stored state per known address. Escrow balances live
// in the ledger, keyed by the same address.
type memberRecord struct {
	status Status
}

// Member is the queryable view of a single member.
type Member struct {
	Address string
	Status  Status
	Escrow  *uint256.Int
	Weight  uint64
}

// sortedAddresses returns the member table keys in ascending order so that
// scans over the table are deterministic.
func sortedAddresses(members map[string]*memberRecord) []string {
	addrs := make([]string, 0, len(members))
	for addr := range members {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}
