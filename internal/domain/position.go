package domain

import "time"

// Position records one participant's exposure to one claim. Positions are
// keyed by (claim, owner): repeat stakes from the same owner accumulate
// into the same record. Positions never hold funds directly; every fund
// movement routes through the claim's escrow.
type Position struct {
	ClaimID   string
	Owner     string
	YesAmount int64
	NoAmount  int64

	// Claimed transitions false -> true exactly once, when the owner
	// withdraws winnings or a refund.
	Claimed bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total returns the sum of all stakes the owner placed through this position.
func (p Position) Total() int64 {
	return p.YesAmount + p.NoAmount
}

// AmountOn returns the stake placed on one side.
func (p Position) AmountOn(side Side) int64 {
	if side == SideYes {
		return p.YesAmount
	}
	return p.NoAmount
}
