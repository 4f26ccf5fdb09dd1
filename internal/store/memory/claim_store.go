// Package memory implements the domain store interfaces with in-process
// maps guarded by a mutex. It backs the "memory" storage backend used in
// development and is the substrate for service tests. Each method applies
// its precondition and effect under one lock acquisition, matching the
// per-operation atomicity the postgres stores get from conditional
// UPDATEs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/truthmarkets/settled/internal/domain"
)

// ClaimStore implements domain.ClaimStore in memory.
type ClaimStore struct {
	mu     sync.Mutex
	claims map[string]domain.Claim
}

// NewClaimStore creates an empty ClaimStore.
func NewClaimStore() *ClaimStore {
	return &ClaimStore{claims: make(map[string]domain.Claim)}
}

// Create inserts a new claim.
func (s *ClaimStore) Create(ctx context.Context, claim domain.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.claims[claim.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.claims[claim.ID] = claim
	return nil
}

// GetByID retrieves a claim.
func (s *ClaimStore) GetByID(ctx context.Context, id string) (domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return domain.Claim{}, domain.ErrNotFound
	}
	return claim, nil
}

// ListByStatus returns claims in the given state, newest first.
func (s *ClaimStore) ListByStatus(ctx context.Context, status domain.ClaimStatus, opts domain.ListOpts) ([]domain.Claim, error) {
	return s.list(opts, func(c domain.Claim) bool { return c.Status == status })
}

// ListByCreator returns claims created by one identity, newest first.
func (s *ClaimStore) ListByCreator(ctx context.Context, creator string, opts domain.ListOpts) ([]domain.Claim, error) {
	return s.list(opts, func(c domain.Claim) bool { return c.Creator == creator })
}

// ListExpired returns open claims whose deadline is at or before now.
func (s *ClaimStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Claim, error) {
	claims, err := s.list(domain.ListOpts{Limit: limit}, func(c domain.Claim) bool {
		return c.Status == domain.ClaimStatusOpen && !c.Deadline.After(now)
	})
	return claims, err
}

func (s *ClaimStore) list(opts domain.ListOpts, match func(domain.Claim) bool) ([]domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Claim
	for _, c := range s.claims {
		if match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Count returns the number of stored claims.
func (s *ClaimStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.claims)), nil
}

// AddStake credits escrow and the side total while the claim is open.
func (s *ClaimStore) AddStake(ctx context.Context, id string, side domain.Side, amount int64) (domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return domain.Claim{}, domain.ErrNotFound
	}
	if claim.Status != domain.ClaimStatusOpen {
		return domain.Claim{}, domain.ErrInvalidStatus
	}

	if side == domain.SideYes {
		claim.YesStake += amount
	} else {
		claim.NoStake += amount
	}
	claim.Escrow += amount
	s.claims[id] = claim
	return claim, nil
}

// MarkResolving transitions open -> resolving.
func (s *ClaimStore) MarkResolving(ctx context.Context, id string) (domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return domain.Claim{}, domain.ErrNotFound
	}
	if claim.Status != domain.ClaimStatusOpen {
		return domain.Claim{}, domain.ErrInvalidStatus
	}

	claim.Status = domain.ClaimStatusResolving
	s.claims[id] = claim
	return claim, nil
}

// Resolve finalizes the claim from open or resolving.
func (s *ClaimStore) Resolve(ctx context.Context, id string, result bool, resultRef, resultBlob, resolverFingerprint string, resolvedAt time.Time) (domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return domain.Claim{}, domain.ErrNotFound
	}
	switch claim.Status {
	case domain.ClaimStatusOpen, domain.ClaimStatusResolving:
	case domain.ClaimStatusResolved:
		return domain.Claim{}, domain.ErrAlreadyResolved
	default:
		return domain.Claim{}, domain.ErrInvalidStatus
	}

	claim.Status = domain.ClaimStatusResolved
	claim.Result = &result
	if resultRef != "" {
		claim.ResultRef = &resultRef
	}
	if resultBlob != "" {
		claim.ResultBlob = &resultBlob
	}
	claim.ResolverFingerprint = &resolverFingerprint
	at := resolvedAt
	claim.ResolvedAt = &at
	s.claims[id] = claim
	return claim, nil
}

// Cancel voids an open claim with zero stakes.
func (s *ClaimStore) Cancel(ctx context.Context, id string) (domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return domain.Claim{}, domain.ErrNotFound
	}
	if claim.Status != domain.ClaimStatusOpen || claim.YesStake != 0 || claim.NoStake != 0 {
		return domain.Claim{}, domain.ErrInvalidStatus
	}

	claim.Status = domain.ClaimStatusCancelled
	s.claims[id] = claim
	return claim, nil
}

// DebitEscrow removes amount from escrow without letting it go negative.
func (s *ClaimStore) DebitEscrow(ctx context.Context, id string, amount int64) (domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return domain.Claim{}, domain.ErrNotFound
	}
	if claim.Escrow < amount {
		return domain.Claim{}, domain.ErrInsufficientEscrow
	}

	claim.Escrow -= amount
	s.claims[id] = claim
	return claim, nil
}

// AccrueFees adds to the accrued fee counters.
func (s *ClaimStore) AccrueFees(ctx context.Context, id string, creatorFee, protocolFee int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return domain.ErrNotFound
	}
	claim.CreatorFeeAccrued += creatorFee
	claim.ProtocolFeeAccrued += protocolFee
	s.claims[id] = claim
	return nil
}

// WithdrawCreatorFees zeroes the creator accrual and debits escrow.
func (s *ClaimStore) WithdrawCreatorFees(ctx context.Context, id string) (int64, error) {
	return s.withdrawFees(id, true)
}

// WithdrawProtocolFees zeroes the protocol accrual and debits escrow.
func (s *ClaimStore) WithdrawProtocolFees(ctx context.Context, id string) (int64, error) {
	return s.withdrawFees(id, false)
}

func (s *ClaimStore) withdrawFees(id string, creator bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return 0, domain.ErrNotFound
	}

	var amount int64
	if creator {
		amount = claim.CreatorFeeAccrued
	} else {
		amount = claim.ProtocolFeeAccrued
	}
	if amount == 0 {
		return 0, domain.ErrNoFeesAccrued
	}
	if claim.Escrow < amount {
		return 0, domain.ErrInsufficientEscrow
	}

	if creator {
		claim.CreatorFeeAccrued = 0
	} else {
		claim.ProtocolFeeAccrued = 0
	}
	claim.Escrow -= amount
	s.claims[id] = claim
	return amount, nil
}

// Compile-time interface check.
var _ domain.ClaimStore = (*ClaimStore)(nil)
