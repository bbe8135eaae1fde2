package circle

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/circlelabs/circle/event"
)

// Domain event types. Every successful operation returns the events it
// produced and publishes them on the contract's bus.
const (
	EventAddNonVoting    = event.Type("add_non_voting")
	EventRemoveNonVoting = event.Type("remove_non_voting")
	EventProposeVoting   = event.Type("propose_voting")
	EventPromoted        = event.Type("promoted")
	EventDemoted         = event.Type("demoted")
	EventPunishment      = event.Type("punishment")
	EventLeave           = event.Type("leave")
	EventEscrowReturned  = event.Type("escrow_returned")
)

// AddNonVotingEvent is emitted when addresses join as non-voting members.
type AddNonVotingEvent struct {
	Members []string
}

// RemoveNonVotingEvent is emitted when non-voting members are removed.
type RemoveNonVotingEvent struct {
	Members []string
}

// ProposeVotingEvent is emitted when addresses are admitted as Pending
// voters, grouped in one batch.
type ProposeVotingEvent struct {
	BatchID uint64
	Members []string
}

// PromotedEvent is emitted when members reach Voting, or when an escrow
// decrease lifts Pending members to PendingPaid ahead of their batch.
type PromotedEvent struct {
	BatchID uint64
	Members []string
}

// DemotedEvent is emitted when a Voting member falls back to Pending, either
// through an escrow increase or a slash.
type DemotedEvent struct {
	Member  string
	BatchID uint64
}

// PunishmentEvent is emitted for every punishment, including zero-portion
// ones that move no funds.
type PunishmentEvent struct {
	Member string
	// Portion is the slashed fraction of the member's escrow.
	Portion Fraction
	// Slashed is the amount removed from the member's escrow.
	Slashed *uint256.Int
	// Burned is true when the slashed amount was burned rather than
	// distributed.
	Burned     bool
	Recipients []string
	KickOut    bool
}

// Leave kinds: an immediate leave removes the member at once, a delayed one
// locks their escrow until ClaimAt.
const (
	LeaveImmediate = "immediate"
	LeaveDelayed   = "delayed"
)

// LeaveEvent is emitted when a member leaves or starts leaving the circle.
type LeaveEvent struct {
	Member string
	Kind   string
	// ClaimAt is set for delayed leaves only.
	ClaimAt time.Time
}

// EscrowReturnedEvent is emitted whenever escrow funds flow back to a
// member.
type EscrowReturnedEvent struct {
	Member string
	Amount *uint256.Int
}

func (c *Contract) newEvent(t event.Type, data any) event.Event {
	return event.New(t, c.now(), data)
}

func (c *Contract) publish(events []event.Event) {
	if c.bus == nil {
		return
	}
	for _, evt := range events {
		c.bus.Publish(evt)
	}
}
