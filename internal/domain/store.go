package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ClaimStore persists claims and owns every escrow mutation. Mutating
// methods are atomic: the status / balance precondition is checked in the
// same operation that applies the change, so concurrent callers cannot
// interleave between check and effect.
type ClaimStore interface {
	Create(ctx context.Context, claim Claim) error
	GetByID(ctx context.Context, id string) (Claim, error)
	ListByStatus(ctx context.Context, status ClaimStatus, opts ListOpts) ([]Claim, error)
	ListByCreator(ctx context.Context, creator string, opts ListOpts) ([]Claim, error)
	// ListExpired returns open claims whose deadline is at or before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Claim, error)
	Count(ctx context.Context) (int64, error)

	// AddStake credits amount into escrow and the chosen side's running
	// total. It fails with ErrInvalidStatus unless the claim is open.
	AddStake(ctx context.Context, id string, side Side, amount int64) (Claim, error)

	// MarkResolving transitions an open claim to resolving. It fails with
	// ErrInvalidStatus when the claim is not open.
	MarkResolving(ctx context.Context, id string) (Claim, error)

	// Resolve finalizes the claim, freezing side totals for payout
	// computation. resultRef is the attested reference; resultBlob is the
	// unattested object-store copy. Legal only from open or resolving;
	// returns ErrAlreadyResolved when already resolved and
	// ErrInvalidStatus when cancelled.
	Resolve(ctx context.Context, id string, result bool, resultRef, resultBlob, resolverFingerprint string, resolvedAt time.Time) (Claim, error)

	// Cancel transitions the claim to cancelled. Legal only while the
	// claim is open with zero stake on both sides.
	Cancel(ctx context.Context, id string) (Claim, error)

	// DebitEscrow removes amount from escrow, failing with
	// ErrInsufficientEscrow rather than letting the balance go negative.
	DebitEscrow(ctx context.Context, id string, amount int64) (Claim, error)

	// AccrueFees adds to the claim's accrued creator/protocol fee counters.
	AccrueFees(ctx context.Context, id string, creatorFee, protocolFee int64) error

	// WithdrawCreatorFees zeroes the accrued creator fees and debits them
	// from escrow, returning the amount withdrawn. ErrNoFeesAccrued when
	// nothing has accrued.
	WithdrawCreatorFees(ctx context.Context, id string) (int64, error)

	// WithdrawProtocolFees is the protocol-side counterpart of
	// WithdrawCreatorFees.
	WithdrawProtocolFees(ctx context.Context, id string) (int64, error)
}

// PositionStore persists per-(claim, owner) stake accounting entries.
type PositionStore interface {
	// AddStake accumulates amount into the owner's position for the
	// claim, creating the position on first stake.
	AddStake(ctx context.Context, claimID, owner string, side Side, amount int64) (Position, error)
	Get(ctx context.Context, claimID, owner string) (Position, error)
	ListByClaim(ctx context.Context, claimID string, opts ListOpts) ([]Position, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Position, error)

	// MarkClaimed flips the claimed flag, failing with ErrAlreadyClaimed
	// when it is already set. This is the idempotency gate for payouts.
	MarkClaimed(ctx context.Context, claimID, owner string) error
}

// SettlementStore pays out one position as a single atomic operation: the
// position's claimed flag flips, the payout leaves the claim's escrow, and
// the fee split accrues onto the claim together. Either every effect
// commits or none do, so a failed settlement can always be retried.
type SettlementStore interface {
	Settle(ctx context.Context, claimID, owner string, payout, creatorFee, protocolFee int64) error
}

// ResolverStore persists the whitelist of authorized resolver measurements.
type ResolverStore interface {
	// Register inserts a fresh whitelist entry. Registering an existing
	// fingerprint replaces the entry (this is how a revoked measurement
	// is re-whitelisted).
	Register(ctx context.Context, entry ResolverEntry) error
	Get(ctx context.Context, fingerprint string) (ResolverEntry, error)
	// Deactivate clears the active flag. Entries are never removed.
	Deactivate(ctx context.Context, fingerprint string) error
	List(ctx context.Context, opts ListOpts) ([]ResolverEntry, error)
}

// ParamsStore persists the singleton protocol parameters record.
type ParamsStore interface {
	Get(ctx context.Context) (Params, error)
	Update(ctx context.Context, params Params) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// DeleteBefore removes entries older than the cutoff; used by the
	// cold-storage archiver after a successful upload.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
