package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthmarkets/settled/internal/domain"
)

func newSettleFixture(t *testing.T) (*SettlementStore, *ClaimStore, *PositionStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	claims := NewClaimStore()
	positions := NewPositionStore()

	require.NoError(t, claims.Create(ctx, openClaim("c1", now)))
	_, err := claims.AddStake(ctx, "c1", domain.SideYes, 100)
	require.NoError(t, err)
	_, err = positions.AddStake(ctx, "c1", "alice", domain.SideYes, 100)
	require.NoError(t, err)

	return NewSettlementStore(claims, positions), claims, positions
}

func TestSettleMovesEverythingTogether(t *testing.T) {
	ctx := context.Background()
	settle, claims, positions := newSettleFixture(t)

	require.NoError(t, settle.Settle(ctx, "c1", "alice", 90, 3, 4))

	pos, err := positions.Get(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.True(t, pos.Claimed)

	claim, err := claims.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), claim.Escrow)
	assert.Equal(t, int64(3), claim.CreatorFeeAccrued)
	assert.Equal(t, int64(4), claim.ProtocolFeeAccrued)

	assert.ErrorIs(t, settle.Settle(ctx, "c1", "alice", 90, 3, 4), domain.ErrAlreadyClaimed)
}

func TestSettleFailureLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	settle, claims, positions := newSettleFixture(t)

	// Escrow holds 100; the over-draw must refuse and leave the position
	// payable rather than burning the claimed flag.
	err := settle.Settle(ctx, "c1", "alice", 101, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientEscrow)

	pos, err := positions.Get(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.False(t, pos.Claimed)

	claim, err := claims.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), claim.Escrow)
	assert.Zero(t, claim.CreatorFeeAccrued)
	assert.Zero(t, claim.ProtocolFeeAccrued)

	// The same settlement succeeds once the amount fits.
	require.NoError(t, settle.Settle(ctx, "c1", "alice", 100, 0, 0))
}

func TestSettleUnknownPositionOrClaim(t *testing.T) {
	ctx := context.Background()
	settle, _, positions := newSettleFixture(t)

	assert.ErrorIs(t, settle.Settle(ctx, "c1", "nobody", 10, 0, 0), domain.ErrNotFound)

	// A position pointing at a vanished claim settles nothing.
	_, err := positions.AddStake(ctx, "ghost", "alice", domain.SideYes, 10)
	require.NoError(t, err)
	err = settle.Settle(ctx, "ghost", "alice", 10, 0, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pos, err := positions.Get(ctx, "ghost", "alice")
	require.NoError(t, err)
	assert.False(t, pos.Claimed)
}
