package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthmarkets/settled/internal/domain"
	"github.com/truthmarkets/settled/internal/store/memory"
)

type settlementEnv struct {
	*claimEnv
	positions *memory.PositionStore
	posSvc    *PositionService
}

func newSettlementEnv(t *testing.T) *settlementEnv {
	t.Helper()
	env := &settlementEnv{
		claimEnv:  newClaimEnv(t),
		positions: memory.NewPositionStore(),
	}
	settle := memory.NewSettlementStore(env.claims, env.positions)
	env.posSvc = NewPositionService(env.positions, env.claims, settle, nil, env.audit, testLogger())
	return env
}

// unstableSettlement fails a configured number of settlements before
// delegating, standing in for a backend outage mid-payout.
type unstableSettlement struct {
	inner    domain.SettlementStore
	failures int
}

func (u *unstableSettlement) Settle(ctx context.Context, claimID, owner string, payout, creatorFee, protocolFee int64) error {
	if u.failures > 0 {
		u.failures--
		return errors.New("backend unavailable")
	}
	return u.inner.Settle(ctx, claimID, owner, payout, creatorFee, protocolFee)
}

func TestStakeValidation(t *testing.T) {
	env := newSettlementEnv(t)
	ctx := context.Background()
	claim := env.create(t)

	_, err := env.posSvc.Stake(ctx, claim.ID, "bob", domain.SideYes, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = env.posSvc.Stake(ctx, claim.ID, "bob", domain.SideYes, -5)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = env.posSvc.Stake(ctx, claim.ID, "bob", domain.Side("maybe"), 10)
	assert.ErrorIs(t, err, domain.ErrInvalidSide)

	_, err = env.posSvc.Stake(ctx, claim.ID, "", domain.SideYes, 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = env.posSvc.Stake(ctx, "no-such-claim", "bob", domain.SideYes, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStakeAccumulates(t *testing.T) {
	env := newSettlementEnv(t)
	ctx := context.Background()
	claim := env.create(t)

	_, err := env.posSvc.Stake(ctx, claim.ID, "bob", domain.SideYes, 60)
	require.NoError(t, err)
	pos, err := env.posSvc.Stake(ctx, claim.ID, "bob", domain.SideYes, 40)
	require.NoError(t, err)

	assert.Equal(t, int64(100), pos.YesAmount)
	assert.Zero(t, pos.NoAmount)

	got, err := env.claims.GetByID(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.YesStake)
	assert.Equal(t, int64(100), got.Escrow)
	assert.Equal(t, got.TotalStake(), got.Escrow)
}

func TestStakeRejectedAfterResolutionBegins(t *testing.T) {
	env := newSettlementEnv(t)
	ctx := context.Background()
	claim := env.create(t)

	_, err := env.posSvc.Stake(ctx, claim.ID, "bob", domain.SideYes, 10)
	require.NoError(t, err)

	env.advance(2 * time.Hour)
	_, err = env.svc.BeginResolution(ctx, claim.ID)
	require.NoError(t, err)

	_, err = env.posSvc.Stake(ctx, claim.ID, "bob", domain.SideYes, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

// Full settlement: three stakers, YES wins, both winners settle, fees
// accrue on the claim, and escrow never goes negative.
func TestSettlementFlow(t *testing.T) {
	env := newSettlementEnv(t)
	ctx := context.Background()
	claim := env.create(t) // creator fee 100 bps, protocol fee 100 bps

	_, err := env.posSvc.Stake(ctx, claim.ID, "alice", domain.SideYes, 100)
	require.NoError(t, err)
	_, err = env.posSvc.Stake(ctx, claim.ID, "bob", domain.SideYes, 500)
	require.NoError(t, err)
	_, err = env.posSvc.Stake(ctx, claim.ID, "carol", domain.SideNo, 400)
	require.NoError(t, err)

	// Settlement is gated on resolution.
	_, err = env.posSvc.ClaimWinnings(ctx, claim.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNotResolved)

	env.advance(2 * time.Hour)
	_, err = env.svc.Resolve(ctx, claim.ID, true, "", "", "fp")
	require.NoError(t, err)

	aliceB, err := env.posSvc.ClaimWinnings(ctx, claim.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1666), aliceB.UserShareBps)
	assert.Equal(t, int64(165), aliceB.TotalPayout)

	bobB, err := env.posSvc.ClaimWinnings(ctx, claim.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(8333), bobB.UserShareBps)
	assert.Equal(t, int64(333), bobB.WinningsFromLosers)
	assert.Equal(t, int64(827), bobB.TotalPayout)

	// Settling twice never pays twice.
	_, err = env.posSvc.ClaimWinnings(ctx, claim.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	// The losing side has nothing to claim.
	_, err = env.posSvc.ClaimWinnings(ctx, claim.ID, "carol")
	assert.ErrorIs(t, err, domain.ErrNoWinnings)

	got, err := env.claims.GetByID(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000-165-827), got.Escrow)
	assert.Equal(t, int64(3), got.CreatorFeeAccrued)
	assert.Equal(t, int64(4), got.ProtocolFeeAccrued)

	// Fee withdrawals drain the remaining escrow down to rounding dust.
	creatorAmt, err := env.svc.WithdrawCreatorFees(ctx, claim.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), creatorAmt)

	protocolAmt, err := env.svc.WithdrawProtocolFees(ctx, claim.ID, "treasury")
	require.NoError(t, err)
	assert.Equal(t, int64(4), protocolAmt)

	got, err = env.claims.GetByID(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Escrow, "truncation dust stays in escrow")
}

// A settlement that fails at the store must leave the position payable
// and escrow untouched, so the caller can simply retry.
func TestClaimWinningsRetriesAfterBackendFailure(t *testing.T) {
	env := newSettlementEnv(t)
	ctx := context.Background()
	claim := env.create(t)

	_, err := env.posSvc.Stake(ctx, claim.ID, "alice", domain.SideYes, 100)
	require.NoError(t, err)
	_, err = env.posSvc.Stake(ctx, claim.ID, "bob", domain.SideYes, 500)
	require.NoError(t, err)
	_, err = env.posSvc.Stake(ctx, claim.ID, "carol", domain.SideNo, 400)
	require.NoError(t, err)

	env.advance(2 * time.Hour)
	_, err = env.svc.Resolve(ctx, claim.ID, true, "", "", "fp")
	require.NoError(t, err)

	settle := &unstableSettlement{
		inner:    memory.NewSettlementStore(env.claims, env.positions),
		failures: 1,
	}
	env.posSvc = NewPositionService(env.positions, env.claims, settle, nil, env.audit, testLogger())

	_, err = env.posSvc.ClaimWinnings(ctx, claim.ID, "alice")
	require.ErrorContains(t, err, "backend unavailable")

	// Nothing moved: the position is still payable and escrow is whole.
	pos, err := env.positions.Get(ctx, claim.ID, "alice")
	require.NoError(t, err)
	assert.False(t, pos.Claimed)
	got, err := env.claims.GetByID(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Escrow)
	assert.Zero(t, got.CreatorFeeAccrued)
	assert.Zero(t, got.ProtocolFeeAccrued)

	// The retry pays out and accrues fees in the same operation.
	breakdown, err := env.posSvc.ClaimWinnings(ctx, claim.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(165), breakdown.TotalPayout)

	got, err = env.claims.GetByID(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000-165), got.Escrow)
	assert.Equal(t, breakdown.CreatorFee, got.CreatorFeeAccrued)
	assert.Equal(t, breakdown.ProtocolFee, got.ProtocolFeeAccrued)
}

func TestClaimRefund(t *testing.T) {
	env := newSettlementEnv(t)
	ctx := context.Background()

	// A cancelled claim with residual stake can only come from operator
	// repair; seed the store directly to exercise the refund path.
	claim := domain.Claim{
		ID:        "cancelled-1",
		Creator:   "alice",
		Status:    domain.ClaimStatusCancelled,
		YesStake:  70,
		NoStake:   30,
		Escrow:    100,
		CreatedAt: env.now,
	}
	require.NoError(t, env.claims.Create(ctx, claim))
	_, err := env.positions.AddStake(ctx, claim.ID, "bob", domain.SideYes, 70)
	require.NoError(t, err)
	_, err = env.positions.AddStake(ctx, claim.ID, "bob", domain.SideNo, 30)
	require.NoError(t, err)

	refund, err := env.posSvc.ClaimRefund(ctx, claim.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(100), refund)

	_, err = env.posSvc.ClaimRefund(ctx, claim.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	got, err := env.claims.GetByID(ctx, claim.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Escrow)
}

func TestClaimRefundRequiresCancelledClaim(t *testing.T) {
	env := newSettlementEnv(t)
	ctx := context.Background()
	claim := env.create(t)

	_, err := env.posSvc.Stake(ctx, claim.ID, "bob", domain.SideYes, 10)
	require.NoError(t, err)

	_, err = env.posSvc.ClaimRefund(ctx, claim.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestPositionQueries(t *testing.T) {
	env := newSettlementEnv(t)
	ctx := context.Background()
	a := env.create(t)
	b := env.create(t)

	_, err := env.posSvc.Stake(ctx, a.ID, "bob", domain.SideYes, 10)
	require.NoError(t, err)
	_, err = env.posSvc.Stake(ctx, b.ID, "bob", domain.SideNo, 20)
	require.NoError(t, err)
	_, err = env.posSvc.Stake(ctx, a.ID, "carol", domain.SideNo, 30)
	require.NoError(t, err)

	pos, err := env.posSvc.Get(ctx, a.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos.Total())

	_, err = env.posSvc.Get(ctx, a.ID, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	byOwner, err := env.posSvc.ListByOwner(ctx, "bob", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, byOwner, 2)

	byClaim, err := env.posSvc.ListByClaim(ctx, a.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, byClaim, 2)
}
