package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/truthmarkets/settled/internal/domain"
)

// PositionService tracks participant stakes and settles them once the
// claim reaches a terminal state. Positions hold accounting entries only;
// every fund movement routes through the claim store's escrow operations.
type PositionService struct {
	positions domain.PositionStore
	claims    domain.ClaimStore
	settle    domain.SettlementStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewPositionService creates a PositionService.
func NewPositionService(
	positions domain.PositionStore,
	claims domain.ClaimStore,
	settle domain.SettlementStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		claims:    claims,
		settle:    settle,
		bus:       bus,
		audit:     audit,
		logger:    logger.With(slog.String("component", "position_service")),
	}
}

// Stake places amount on one side of an open claim. The escrow credit and
// the open-status check happen in a single store operation, so a stake
// can never be accepted once resolution has begun. Repeat stakes from the
// same owner accumulate into one position.
func (s *PositionService) Stake(ctx context.Context, claimID, owner string, side domain.Side, amount int64) (domain.Position, error) {
	if amount <= 0 {
		return domain.Position{}, domain.ErrInvalidAmount
	}
	if !side.Valid() {
		return domain.Position{}, domain.ErrInvalidSide
	}
	if owner == "" {
		return domain.Position{}, domain.ErrUnauthorized
	}

	// Credit the claim first: it is the authoritative status gate.
	if _, err := s.claims.AddStake(ctx, claimID, side, amount); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: add stake to claim %q: %w", claimID, err)
	}

	pos, err := s.positions.AddStake(ctx, claimID, owner, side, amount)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: record position for %q: %w", owner, err)
	}

	publishEvent(ctx, s.bus, s.logger, domain.EventStakePlaced, domain.StakePlacedEvent{
		Event:   domain.EventStakePlaced,
		ClaimID: claimID,
		Owner:   owner,
		Side:    side,
		Amount:  amount,
	})
	auditLog(ctx, s.audit, s.logger, domain.EventStakePlaced, map[string]any{
		"claim_id": claimID,
		"owner":    owner,
		"side":     string(side),
		"amount":   amount,
	})

	s.logger.InfoContext(ctx, "stake placed",
		slog.String("claim_id", claimID),
		slog.String("owner", owner),
		slog.String("side", string(side)),
		slog.Int64("amount", amount),
	)
	return pos, nil
}

// ClaimWinnings settles the caller's position on a resolved claim,
// applying the proportional payout formula. The claimed-flag flip, the
// escrow debit, and the fee accrual commit as one store operation, so a
// second call always fails with ErrAlreadyClaimed, a backend failure
// leaves the position payable, and the computed fees can never detach
// from the payout they were deducted from.
func (s *PositionService) ClaimWinnings(ctx context.Context, claimID, caller string) (PayoutBreakdown, error) {
	claim, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return PayoutBreakdown{}, fmt.Errorf("position_service: get claim %q: %w", claimID, err)
	}
	if claim.Status != domain.ClaimStatusResolved {
		return PayoutBreakdown{}, domain.ErrNotResolved
	}

	pos, err := s.positions.Get(ctx, claimID, caller)
	if err != nil {
		return PayoutBreakdown{}, fmt.Errorf("position_service: get position: %w", err)
	}
	if pos.Claimed {
		return PayoutBreakdown{}, domain.ErrAlreadyClaimed
	}

	breakdown, err := ComputePayout(claim, pos)
	if err != nil {
		return PayoutBreakdown{}, err
	}

	if err := s.settle.Settle(ctx, claimID, caller,
		breakdown.TotalPayout, breakdown.CreatorFee, breakdown.ProtocolFee); err != nil {
		return PayoutBreakdown{}, fmt.Errorf("position_service: settle %s/%s: %w", claimID, caller, err)
	}

	publishEvent(ctx, s.bus, s.logger, domain.EventWinningsClaimed, domain.WinningsClaimedEvent{
		Event:   domain.EventWinningsClaimed,
		ClaimID: claimID,
		Owner:   caller,
		Payout:  breakdown.TotalPayout,
	})
	auditLog(ctx, s.audit, s.logger, domain.EventWinningsClaimed, map[string]any{
		"claim_id": claimID,
		"owner":    caller,
		"payout":   breakdown.TotalPayout,
		"fees":     breakdown.Fees(),
	})

	s.logger.InfoContext(ctx, "winnings claimed",
		slog.String("claim_id", claimID),
		slog.String("owner", caller),
		slog.Int64("payout", breakdown.TotalPayout),
	)
	return breakdown, nil
}

// ClaimRefund returns the caller's full stake on a cancelled claim.
func (s *PositionService) ClaimRefund(ctx context.Context, claimID, caller string) (int64, error) {
	claim, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return 0, fmt.Errorf("position_service: get claim %q: %w", claimID, err)
	}

	pos, err := s.positions.Get(ctx, claimID, caller)
	if err != nil {
		return 0, fmt.Errorf("position_service: get position: %w", err)
	}
	if pos.Claimed {
		return 0, domain.ErrAlreadyClaimed
	}

	refund, err := ComputeRefund(claim, pos)
	if err != nil {
		return 0, err
	}

	if err := s.settle.Settle(ctx, claimID, caller, refund, 0, 0); err != nil {
		return 0, fmt.Errorf("position_service: settle refund %s/%s: %w", claimID, caller, err)
	}

	publishEvent(ctx, s.bus, s.logger, domain.EventRefundClaimed, domain.RefundClaimedEvent{
		Event:   domain.EventRefundClaimed,
		ClaimID: claimID,
		Owner:   caller,
		Refund:  refund,
	})
	auditLog(ctx, s.audit, s.logger, domain.EventRefundClaimed, map[string]any{
		"claim_id": claimID,
		"owner":    caller,
		"refund":   refund,
	})

	s.logger.InfoContext(ctx, "refund claimed",
		slog.String("claim_id", claimID),
		slog.String("owner", caller),
		slog.Int64("refund", refund),
	)
	return refund, nil
}

// Get returns one position.
func (s *PositionService) Get(ctx context.Context, claimID, owner string) (domain.Position, error) {
	pos, err := s.positions.Get(ctx, claimID, owner)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get position: %w", err)
	}
	return pos, nil
}

// ListByOwner returns all positions held by one identity.
func (s *PositionService) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list by owner: %w", err)
	}
	return positions, nil
}

// ListByClaim returns all positions on one claim.
func (s *PositionService) ListByClaim(ctx context.Context, claimID string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListByClaim(ctx, claimID, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list by claim: %w", err)
	}
	return positions, nil
}
