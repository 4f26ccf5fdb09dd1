package memory

import (
	"context"
	"time"

	"github.com/truthmarkets/settled/internal/domain"
)

// SettlementStore implements domain.SettlementStore over the in-memory
// claim and position stores. It holds both store locks for the duration of
// a settlement and checks every precondition before touching either map,
// so a failed settlement leaves no partial state behind.
type SettlementStore struct {
	claims    *ClaimStore
	positions *PositionStore
}

// NewSettlementStore creates a SettlementStore spanning the given stores.
func NewSettlementStore(claims *ClaimStore, positions *PositionStore) *SettlementStore {
	return &SettlementStore{claims: claims, positions: positions}
}

// Settle atomically flips the position's claimed flag, debits the payout
// from escrow, and accrues the fee split onto the claim.
func (s *SettlementStore) Settle(ctx context.Context, claimID, owner string, payout, creatorFee, protocolFee int64) error {
	// Lock order matches Stake's store-call order: claims before positions.
	s.claims.mu.Lock()
	defer s.claims.mu.Unlock()
	s.positions.mu.Lock()
	defer s.positions.mu.Unlock()

	key := positionKey{claimID: claimID, owner: owner}
	pos, ok := s.positions.positions[key]
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Claimed {
		return domain.ErrAlreadyClaimed
	}

	claim, ok := s.claims.claims[claimID]
	if !ok {
		return domain.ErrNotFound
	}
	if claim.Escrow < payout {
		return domain.ErrInsufficientEscrow
	}

	pos.Claimed = true
	pos.UpdatedAt = time.Now().UTC()
	s.positions.positions[key] = pos

	claim.Escrow -= payout
	claim.CreatorFeeAccrued += creatorFee
	claim.ProtocolFeeAccrued += protocolFee
	s.claims.claims[claimID] = claim
	return nil
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)
