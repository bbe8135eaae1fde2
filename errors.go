package circle

import "errors"

// All failures are precondition violations surfaced synchronously to the
// caller. Operations never retry internally and never commit partial state.
// Callers match with errors.Is; wrapped messages carry the offending member,
// proposal or amount.
var (
	// ErrUnauthorized is returned when the caller lacks the role or status
	// an operation requires, for example voting without being part of the
	// proposal snapshot.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidTransition is returned when an operation is not valid for
	// the member's or proposal's current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInsufficientEscrow is returned when a withdrawal would take a
	// balance below zero, or below the effective required escrow for a
	// Voting or PendingPaid member.
	ErrInsufficientEscrow = errors.New("insufficient escrow")

	// ErrPendingChangeExists is returned when a required-escrow change is
	// queued while another one is still waiting for its activation deadline.
	ErrPendingChangeExists = errors.New("pending escrow change exists")

	// ErrNotOpen is returned when voting or closing a proposal that is not
	// in the Open status.
	ErrNotOpen = errors.New("proposal not open")

	// ErrAlreadyVoted is returned on a second vote by the same member on
	// the same proposal.
	ErrAlreadyVoted = errors.New("already voted")

	// ErrExpired is returned when voting on a proposal past its expiration.
	ErrExpired = errors.New("proposal expired")

	// ErrNotFound is returned for an unknown member, batch or proposal.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPortion is returned when a slash portion lies outside [0, 1].
	ErrInvalidPortion = errors.New("slash portion out of range")
)
