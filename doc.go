// Package circle implements a permissioned membership group with refundable
// escrow deposits, batched voter admission and weighted proposals.
//
// A Contract tracks every member's status through a small state machine:
// addresses join as non-voting members or as Pending voters grouped in
// admission batches, pay escrow to become PendingPaid, and are promoted to
// Voting when their batch finalizes. Voting members open proposals, vote on
// them and execute passed ones; punishments slash escrow and may expel
// members. Leaving members reclaim their escrow after a delay.
//
// The contract holds no funds itself. Deposits are reported by the host
// ledger through PayEscrow and refunds, burns and distributions are
// dispatched through the injected Executor. Operations are serialized by the
// host; each one validates first and either commits in full or leaves state
// untouched.
package circle
