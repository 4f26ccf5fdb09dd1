package domain

import "time"

// ClaimStatus represents the lifecycle state of a claim.
type ClaimStatus string

const (
	ClaimStatusOpen      ClaimStatus = "open"
	ClaimStatusResolving ClaimStatus = "resolving"
	ClaimStatusResolved  ClaimStatus = "resolved"
	ClaimStatusCancelled ClaimStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimStatusResolved || s == ClaimStatusCancelled
}

// Side identifies which outcome of a claim a stake backs.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether the side is one of the two recognised outcomes.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// BpsDenominator is the basis-point denominator used for all fee and
// share ratios (1 bp = 0.01%).
const BpsDenominator = 10_000

// Claim is a staked assertion with a deadline and an eventual boolean
// result. It is the permanent settlement record: claims are never deleted,
// they only become economically inert once escrow is fully drained.
type Claim struct {
	ID          string
	Creator     string
	SpecRef     string // content-addressed reference to the claim spec blob
	EvidenceRef string // content-addressed reference to the encrypted evidence blob
	Description string
	Deadline    time.Time
	Status      ClaimStatus

	// Resolution outcome. Result is set if and only if Status is resolved.
	// ResultRef is the reference the resolver signed over, so it is covered
	// by the attestation; ResultBlob is an unattested object-store copy of
	// the resolution payload written at resolve time.
	Result              *bool
	ResultRef           *string
	ResultBlob          *string
	ResolverFingerprint *string // hex-encoded 32-byte measurement

	// Stake totals per side and the escrow balance, all in the same
	// integer unit. Escrow equals YesStake+NoStake until the first
	// withdrawal, after which it only decreases.
	YesStake int64
	NoStake  int64
	Escrow   int64

	// Fee rates are fixed at creation. Accrued fees are deducted from
	// winner payouts and stay in escrow until the creator or the protocol
	// fee recipient withdraws them.
	CreatorFeeBps      int
	ProtocolFeeBps     int
	CreatorFeeAccrued  int64
	ProtocolFeeAccrued int64

	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// TotalStake returns the combined stake on both sides.
func (c Claim) TotalStake() int64 {
	return c.YesStake + c.NoStake
}

// StakeOn returns the running total for one side.
func (c Claim) StakeOn(side Side) int64 {
	if side == SideYes {
		return c.YesStake
	}
	return c.NoStake
}

// Stakeable reports whether the claim still accepts stakes.
func (c Claim) Stakeable() bool {
	return c.Status == ClaimStatusOpen
}
