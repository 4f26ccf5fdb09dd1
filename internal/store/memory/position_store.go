package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/truthmarkets/settled/internal/domain"
)

type positionKey struct {
	claimID string
	owner   string
}

// PositionStore implements domain.PositionStore in memory, keyed by
// (claim, owner).
type PositionStore struct {
	mu        sync.Mutex
	positions map[positionKey]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[positionKey]domain.Position)}
}

// AddStake accumulates amount into the owner's position, creating it on
// first stake.
func (s *PositionStore) AddStake(ctx context.Context, claimID, owner string, side domain.Side, amount int64) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{claimID: claimID, owner: owner}
	now := time.Now().UTC()

	pos, ok := s.positions[key]
	if !ok {
		pos = domain.Position{
			ClaimID:   claimID,
			Owner:     owner,
			CreatedAt: now,
		}
	}

	if side == domain.SideYes {
		pos.YesAmount += amount
	} else {
		pos.NoAmount += amount
	}
	pos.UpdatedAt = now
	s.positions[key] = pos
	return pos, nil
}

// Get retrieves one position.
func (s *PositionStore) Get(ctx context.Context, claimID, owner string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[positionKey{claimID: claimID, owner: owner}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// ListByClaim returns positions on one claim.
func (s *PositionStore) ListByClaim(ctx context.Context, claimID string, opts domain.ListOpts) ([]domain.Position, error) {
	return s.list(opts, func(p domain.Position) bool { return p.ClaimID == claimID })
}

// ListByOwner returns positions held by one identity.
func (s *PositionStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	return s.list(opts, func(p domain.Position) bool { return p.Owner == owner })
}

func (s *PositionStore) list(opts domain.ListOpts, match func(domain.Position) bool) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	for _, p := range s.positions {
		if match(p) {
			out = append(out, p)
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

// MarkClaimed flips the claimed flag exactly once.
func (s *PositionStore) MarkClaimed(ctx context.Context, claimID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{claimID: claimID, owner: owner}
	pos, ok := s.positions[key]
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Claimed {
		return domain.ErrAlreadyClaimed
	}

	pos.Claimed = true
	pos.UpdatedAt = time.Now().UTC()
	s.positions[key] = pos
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
