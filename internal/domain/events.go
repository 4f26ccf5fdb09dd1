package domain

import "time"

// Event type names published on the signal bus for off-chain indexers
// and UIs.
const (
	EventClaimCreated           = "claim_created"
	EventClaimResolved          = "claim_resolved"
	EventClaimCancelled         = "claim_cancelled"
	EventResolutionRequested    = "resolution_requested"
	EventStakePlaced            = "stake_placed"
	EventWinningsClaimed        = "winnings_claimed"
	EventRefundClaimed          = "refund_claimed"
	EventMeasurementWhitelisted = "measurement_whitelisted"
	EventMeasurementRevoked     = "measurement_revoked"
)

// EventsChannel is the pub/sub channel all settlement events are published
// on; EventsStream is the durable stream the event relay appends to.
const (
	EventsChannel = "settlement"
	EventsStream  = "settlement:events"
)

// ClaimCreatedEvent announces a new claim.
type ClaimCreatedEvent struct {
	Event       string    `json:"event"`
	ClaimID     string    `json:"claim_id"`
	Creator     string    `json:"creator"`
	SpecRef     string    `json:"spec_ref"`
	EvidenceRef string    `json:"evidence_ref"`
	Description string    `json:"description"`
	Deadline    time.Time `json:"deadline"`
}

// ClaimResolvedEvent announces a finalized claim together with the frozen
// side totals used for payout computation.
type ClaimResolvedEvent struct {
	Event               string    `json:"event"`
	ClaimID             string    `json:"claim_id"`
	Result              bool      `json:"result"`
	ResultRef           string    `json:"result_ref"`
	ResolverFingerprint string    `json:"resolver_fingerprint"`
	YesStake            int64     `json:"yes_stake"`
	NoStake             int64     `json:"no_stake"`
	ResolvedAt          time.Time `json:"resolved_at"`
}

// ClaimCancelledEvent announces a cancelled claim.
type ClaimCancelledEvent struct {
	Event   string `json:"event"`
	ClaimID string `json:"claim_id"`
	Reason  string `json:"reason"`
}

// ResolutionRequestedEvent announces that a claim's deadline has passed
// and it is awaiting an attested result.
type ResolutionRequestedEvent struct {
	Event    string    `json:"event"`
	ClaimID  string    `json:"claim_id"`
	Deadline time.Time `json:"deadline"`
}

// StakePlacedEvent announces an accepted stake.
type StakePlacedEvent struct {
	Event   string `json:"event"`
	ClaimID string `json:"claim_id"`
	Owner   string `json:"owner"`
	Side    Side   `json:"side"`
	Amount  int64  `json:"amount"`
}

// WinningsClaimedEvent announces a winner payout.
type WinningsClaimedEvent struct {
	Event   string `json:"event"`
	ClaimID string `json:"claim_id"`
	Owner   string `json:"owner"`
	Payout  int64  `json:"payout"`
}

// RefundClaimedEvent announces a refund on a cancelled claim.
type RefundClaimedEvent struct {
	Event   string `json:"event"`
	ClaimID string `json:"claim_id"`
	Owner   string `json:"owner"`
	Refund  int64  `json:"refund"`
}

// MeasurementWhitelistedEvent announces a newly authorized resolver.
type MeasurementWhitelistedEvent struct {
	Event       string `json:"event"`
	Fingerprint string `json:"fingerprint"`
	Description string `json:"description"`
}

// MeasurementRevokedEvent announces a deactivated resolver.
type MeasurementRevokedEvent struct {
	Event       string `json:"event"`
	Fingerprint string `json:"fingerprint"`
}
