package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/truthmarkets/settled/internal/domain"
)

// ClaimService owns the claim lifecycle and every escrow mutation. Status
// preconditions are enforced atomically by the claim store, so a stake
// racing the deadline can never land after resolution has begun.
type ClaimService struct {
	claims domain.ClaimStore
	params domain.ParamsStore
	cache  domain.ClaimCache
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewClaimService creates a ClaimService. cache, bus, and audit may be nil
// in reduced deployments.
func NewClaimService(
	claims domain.ClaimStore,
	params domain.ParamsStore,
	cache domain.ClaimCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ClaimService {
	return &ClaimService{
		claims: claims,
		params: params,
		cache:  cache,
		bus:    bus,
		audit:  audit,
		logger: logger.With(slog.String("component", "claim_service")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *ClaimService) WithClock(now func() time.Time) *ClaimService {
	s.now = now
	return s
}

// CreateClaimInput carries the caller-supplied fields for a new claim.
type CreateClaimInput struct {
	Creator       string
	SpecRef       string
	EvidenceRef   string
	Description   string
	Deadline      time.Time
	CreatorFeeBps int
}

// Create registers a new claim in the open state with zero stakes and
// escrow. The protocol fee rate is snapshotted from the current protocol
// parameters so later parameter changes do not reprice existing claims.
func (s *ClaimService) Create(ctx context.Context, in CreateClaimInput) (domain.Claim, error) {
	now := s.now()

	if !in.Deadline.After(now) {
		return domain.Claim{}, domain.ErrInvalidDeadline
	}
	if in.Creator == "" {
		return domain.Claim{}, fmt.Errorf("claim_service: %w: creator required", domain.ErrUnauthorized)
	}
	if in.CreatorFeeBps < 0 || in.CreatorFeeBps > domain.BpsDenominator {
		return domain.Claim{}, domain.ErrInvalidFeeRate
	}

	params, err := s.params.Get(ctx)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim_service: load params: %w", err)
	}

	claim := domain.Claim{
		ID:             uuid.New().String(),
		Creator:        in.Creator,
		SpecRef:        in.SpecRef,
		EvidenceRef:    in.EvidenceRef,
		Description:    in.Description,
		Deadline:       in.Deadline.UTC(),
		Status:         domain.ClaimStatusOpen,
		CreatorFeeBps:  in.CreatorFeeBps,
		ProtocolFeeBps: params.ProtocolFeeBps,
		CreatedAt:      now,
	}

	if err := s.claims.Create(ctx, claim); err != nil {
		return domain.Claim{}, fmt.Errorf("claim_service: create claim: %w", err)
	}

	publishEvent(ctx, s.bus, s.logger, domain.EventClaimCreated, domain.ClaimCreatedEvent{
		Event:       domain.EventClaimCreated,
		ClaimID:     claim.ID,
		Creator:     claim.Creator,
		SpecRef:     claim.SpecRef,
		EvidenceRef: claim.EvidenceRef,
		Description: claim.Description,
		Deadline:    claim.Deadline,
	})
	auditLog(ctx, s.audit, s.logger, domain.EventClaimCreated, map[string]any{
		"claim_id": claim.ID,
		"creator":  claim.Creator,
		"deadline": claim.Deadline,
	})

	s.logger.InfoContext(ctx, "claim created",
		slog.String("claim_id", claim.ID),
		slog.String("creator", claim.Creator),
		slog.Time("deadline", claim.Deadline),
	)

	return claim, nil
}

// Get returns a claim, consulting the snapshot cache first.
func (s *ClaimService) Get(ctx context.Context, id string) (domain.Claim, error) {
	if s.cache != nil {
		if claim, err := s.cache.Get(ctx, id); err == nil {
			return claim, nil
		}
	}

	claim, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim_service: get claim %q: %w", id, err)
	}

	// Only terminal claims are cached; live ones mutate too often.
	if s.cache != nil && claim.Status.Terminal() {
		if cacheErr := s.cache.Set(ctx, claim); cacheErr != nil {
			s.logger.WarnContext(ctx, "claim cache set failed",
				slog.String("claim_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return claim, nil
}

// ListByStatus returns claims in the given state.
func (s *ClaimService) ListByStatus(ctx context.Context, status domain.ClaimStatus, opts domain.ListOpts) ([]domain.Claim, error) {
	claims, err := s.claims.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("claim_service: list %s claims: %w", status, err)
	}
	return claims, nil
}

// ListByCreator returns claims created by one identity.
func (s *ClaimService) ListByCreator(ctx context.Context, creator string, opts domain.ListOpts) ([]domain.Claim, error) {
	claims, err := s.claims.ListByCreator(ctx, creator, opts)
	if err != nil {
		return nil, fmt.Errorf("claim_service: list claims by creator: %w", err)
	}
	return claims, nil
}

// BeginResolution moves an open claim whose deadline has passed into the
// resolving state. It is invoked by the deadline watcher; resolution
// itself does not depend on it (resolve accepts open claims too).
func (s *ClaimService) BeginResolution(ctx context.Context, id string) (domain.Claim, error) {
	claim, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim_service: get claim %q: %w", id, err)
	}
	if s.now().Before(claim.Deadline) {
		return domain.Claim{}, domain.ErrDeadlineNotReached
	}

	claim, err = s.claims.MarkResolving(ctx, id)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim_service: mark resolving %q: %w", id, err)
	}

	publishEvent(ctx, s.bus, s.logger, domain.EventResolutionRequested, domain.ResolutionRequestedEvent{
		Event:    domain.EventResolutionRequested,
		ClaimID:  claim.ID,
		Deadline: claim.Deadline,
	})

	s.logger.InfoContext(ctx, "claim awaiting resolution",
		slog.String("claim_id", claim.ID),
	)
	return claim, nil
}

// Resolve finalizes a claim. This is the single finalization point: once
// it succeeds the side totals are frozen for payout computation. Legal
// only when the deadline has passed and the claim is open or resolving.
// resultRef is the reference covered by the resolver's attestation;
// resultBlob is the unattested object-store copy of the resolution
// payload, kept separate so the attested record is never rewritten.
//
// Authorization of the resolution is the ResolutionService's concern; this
// method trusts its caller.
func (s *ClaimService) Resolve(ctx context.Context, id string, result bool, resultRef, resultBlob, resolverFingerprint string) (domain.Claim, error) {
	now := s.now()

	claim, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim_service: get claim %q: %w", id, err)
	}
	if now.Before(claim.Deadline) {
		return domain.Claim{}, domain.ErrDeadlineNotReached
	}

	claim, err = s.claims.Resolve(ctx, id, result, resultRef, resultBlob, resolverFingerprint, now)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim_service: resolve %q: %w", id, err)
	}

	s.invalidate(ctx, id)

	publishEvent(ctx, s.bus, s.logger, domain.EventClaimResolved, domain.ClaimResolvedEvent{
		Event:               domain.EventClaimResolved,
		ClaimID:             claim.ID,
		Result:              result,
		ResultRef:           resultRef,
		ResolverFingerprint: resolverFingerprint,
		YesStake:            claim.YesStake,
		NoStake:             claim.NoStake,
		ResolvedAt:          now,
	})
	auditLog(ctx, s.audit, s.logger, domain.EventClaimResolved, map[string]any{
		"claim_id":    claim.ID,
		"result":      result,
		"result_ref":  resultRef,
		"result_blob": resultBlob,
		"fingerprint": resolverFingerprint,
	})

	s.logger.InfoContext(ctx, "claim resolved",
		slog.String("claim_id", claim.ID),
		slog.Bool("result", result),
		slog.String("resolver", resolverFingerprint),
	)
	return claim, nil
}

// Cancel voids an open claim. Only the creator may cancel, and only while
// both stake totals are zero; a claim carrying any stake can never be
// cancelled, which protects staked funds from unilateral withdrawal.
func (s *ClaimService) Cancel(ctx context.Context, id, caller, reason string) (domain.Claim, error) {
	claim, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim_service: get claim %q: %w", id, err)
	}
	if caller != claim.Creator {
		return domain.Claim{}, domain.ErrUnauthorized
	}

	claim, err = s.claims.Cancel(ctx, id)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim_service: cancel %q: %w", id, err)
	}

	s.invalidate(ctx, id)

	publishEvent(ctx, s.bus, s.logger, domain.EventClaimCancelled, domain.ClaimCancelledEvent{
		Event:   domain.EventClaimCancelled,
		ClaimID: claim.ID,
		Reason:  reason,
	})
	auditLog(ctx, s.audit, s.logger, domain.EventClaimCancelled, map[string]any{
		"claim_id": claim.ID,
		"reason":   reason,
	})

	s.logger.InfoContext(ctx, "claim cancelled",
		slog.String("claim_id", claim.ID),
		slog.String("reason", reason),
	)
	return claim, nil
}

// WithdrawCreatorFees pays out the creator's accrued fee share on a
// resolved claim.
func (s *ClaimService) WithdrawCreatorFees(ctx context.Context, id, caller string) (int64, error) {
	claim, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("claim_service: get claim %q: %w", id, err)
	}
	if caller != claim.Creator {
		return 0, domain.ErrUnauthorized
	}
	if claim.Status != domain.ClaimStatusResolved {
		return 0, domain.ErrNotResolved
	}

	amount, err := s.claims.WithdrawCreatorFees(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNoFeesAccrued) {
			return 0, err
		}
		return 0, fmt.Errorf("claim_service: withdraw creator fees %q: %w", id, err)
	}

	s.invalidate(ctx, id)
	auditLog(ctx, s.audit, s.logger, "creator_fees_withdrawn", map[string]any{
		"claim_id": id,
		"caller":   caller,
		"amount":   amount,
	})
	return amount, nil
}

// WithdrawProtocolFees pays out the protocol's accrued fee share to the
// configured fee recipient.
func (s *ClaimService) WithdrawProtocolFees(ctx context.Context, id, caller string) (int64, error) {
	params, err := s.params.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("claim_service: load params: %w", err)
	}
	if caller != params.FeeRecipient {
		return 0, domain.ErrUnauthorized
	}

	claim, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("claim_service: get claim %q: %w", id, err)
	}
	if claim.Status != domain.ClaimStatusResolved {
		return 0, domain.ErrNotResolved
	}

	amount, err := s.claims.WithdrawProtocolFees(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNoFeesAccrued) {
			return 0, err
		}
		return 0, fmt.Errorf("claim_service: withdraw protocol fees %q: %w", id, err)
	}

	s.invalidate(ctx, id)
	auditLog(ctx, s.audit, s.logger, "protocol_fees_withdrawn", map[string]any{
		"claim_id": id,
		"caller":   caller,
		"amount":   amount,
	})
	return amount, nil
}

func (s *ClaimService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "claim cache invalidate failed",
			slog.String("claim_id", id),
			slog.String("error", err.Error()),
		)
	}
}
