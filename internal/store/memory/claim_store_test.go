package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthmarkets/settled/internal/domain"
)

func openClaim(id string, createdAt time.Time) domain.Claim {
	return domain.Claim{
		ID:        id,
		Creator:   "alice",
		Status:    domain.ClaimStatusOpen,
		Deadline:  createdAt.Add(time.Hour),
		CreatedAt: createdAt,
	}
}

func TestClaimStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewClaimStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, openClaim("c1", now)))
	assert.ErrorIs(t, store.Create(ctx, openClaim("c1", now)), domain.ErrAlreadyExists)

	got, err := store.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Creator)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestClaimStoreAddStake(t *testing.T) {
	ctx := context.Background()
	store := NewClaimStore()
	now := time.Now().UTC()
	require.NoError(t, store.Create(ctx, openClaim("c1", now)))

	claim, err := store.AddStake(ctx, "c1", domain.SideYes, 60)
	require.NoError(t, err)
	claim, err = store.AddStake(ctx, "c1", domain.SideNo, 40)
	require.NoError(t, err)
	assert.EqualValues(t, 60, claim.YesStake)
	assert.EqualValues(t, 40, claim.NoStake)
	assert.EqualValues(t, 100, claim.Escrow)

	_, err = store.AddStake(ctx, "missing", domain.SideYes, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.MarkResolving(ctx, "c1")
	require.NoError(t, err)
	_, err = store.AddStake(ctx, "c1", domain.SideYes, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestClaimStoreResolveTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewClaimStore()
	now := time.Now().UTC()
	fp := "ab12"

	// open -> resolved directly.
	require.NoError(t, store.Create(ctx, openClaim("direct", now)))
	claim, err := store.Resolve(ctx, "direct", true, "ref", "", fp, now)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusResolved, claim.Status)
	require.NotNil(t, claim.Result)
	assert.True(t, *claim.Result)
	require.NotNil(t, claim.ResultRef)
	assert.Equal(t, "ref", *claim.ResultRef)
	require.NotNil(t, claim.ResolverFingerprint)
	assert.Equal(t, fp, *claim.ResolverFingerprint)
	require.NotNil(t, claim.ResolvedAt)

	// open -> resolving -> resolved.
	require.NoError(t, store.Create(ctx, openClaim("staged", now)))
	claim, err = store.MarkResolving(ctx, "staged")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusResolving, claim.Status)
	_, err = store.MarkResolving(ctx, "staged")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	claim, err = store.Resolve(ctx, "staged", false, "", "", fp, now)
	require.NoError(t, err)
	assert.Nil(t, claim.ResultRef)

	// Resolving twice is a distinct failure from resolving a cancelled claim.
	_, err = store.Resolve(ctx, "direct", true, "ref", "", fp, now)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	require.NoError(t, store.Create(ctx, openClaim("void", now)))
	_, err = store.Cancel(ctx, "void")
	require.NoError(t, err)
	_, err = store.Resolve(ctx, "void", true, "", "", fp, now)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestClaimStoreCancelRequiresZeroStakes(t *testing.T) {
	ctx := context.Background()
	store := NewClaimStore()
	now := time.Now().UTC()

	require.NoError(t, store.Create(ctx, openClaim("staked", now)))
	_, err := store.AddStake(ctx, "staked", domain.SideYes, 5)
	require.NoError(t, err)
	_, err = store.Cancel(ctx, "staked")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	require.NoError(t, store.Create(ctx, openClaim("empty", now)))
	claim, err := store.Cancel(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusCancelled, claim.Status)
	_, err = store.Cancel(ctx, "empty")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestClaimStoreDebitEscrow(t *testing.T) {
	ctx := context.Background()
	store := NewClaimStore()
	now := time.Now().UTC()
	require.NoError(t, store.Create(ctx, openClaim("c1", now)))
	_, err := store.AddStake(ctx, "c1", domain.SideYes, 100)
	require.NoError(t, err)

	claim, err := store.DebitEscrow(ctx, "c1", 60)
	require.NoError(t, err)
	assert.EqualValues(t, 40, claim.Escrow)

	_, err = store.DebitEscrow(ctx, "c1", 41)
	assert.ErrorIs(t, err, domain.ErrInsufficientEscrow)

	// Stake totals are untouched by escrow debits.
	got, err := store.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, got.YesStake)
	assert.EqualValues(t, 40, got.Escrow)
}

func TestClaimStoreFeeWithdrawals(t *testing.T) {
	ctx := context.Background()
	store := NewClaimStore()
	now := time.Now().UTC()
	require.NoError(t, store.Create(ctx, openClaim("c1", now)))
	_, err := store.AddStake(ctx, "c1", domain.SideYes, 100)
	require.NoError(t, err)

	_, err = store.WithdrawCreatorFees(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNoFeesAccrued)

	require.NoError(t, store.AccrueFees(ctx, "c1", 3, 4))

	amt, err := store.WithdrawCreatorFees(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, amt)
	_, err = store.WithdrawCreatorFees(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNoFeesAccrued)

	amt, err = store.WithdrawProtocolFees(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 4, amt)

	got, err := store.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 93, got.Escrow)
}

func TestClaimStoreListExpired(t *testing.T) {
	ctx := context.Background()
	store := NewClaimStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	past := openClaim("past", base.Add(-2*time.Hour)) // deadline base-1h
	future := openClaim("future", base)               // deadline base+1h
	require.NoError(t, store.Create(ctx, past))
	require.NoError(t, store.Create(ctx, future))

	resolved := openClaim("resolved", base.Add(-3*time.Hour))
	require.NoError(t, store.Create(ctx, resolved))
	_, err := store.Resolve(ctx, "resolved", true, "", "", "fp", base)
	require.NoError(t, err)

	expired, err := store.ListExpired(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "past", expired[0].ID)

	// A deadline exactly at now counts as expired.
	atNow := openClaim("at-now", base.Add(-time.Hour)) // deadline == base
	require.NoError(t, store.Create(ctx, atNow))
	expired, err = store.ListExpired(ctx, base, 10)
	require.NoError(t, err)
	assert.Len(t, expired, 2)
}

func TestClaimStoreListPagination(t *testing.T) {
	ctx := context.Background()
	store := NewClaimStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, openClaim(id, base.Add(time.Duration(i)*time.Minute))))
	}

	// Newest first.
	claims, err := store.ListByStatus(ctx, domain.ClaimStatusOpen, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, claims, 3)
	assert.Equal(t, "c", claims[0].ID)

	claims, err = store.ListByStatus(ctx, domain.ClaimStatusOpen, domain.ListOpts{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "b", claims[0].ID)

	claims, err = store.ListByStatus(ctx, domain.ClaimStatusOpen, domain.ListOpts{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, claims)

	claims, err = store.ListByCreator(ctx, "nobody", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestPositionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()

	pos, err := store.AddStake(ctx, "c1", "alice", domain.SideYes, 60)
	require.NoError(t, err)
	pos, err = store.AddStake(ctx, "c1", "alice", domain.SideNo, 40)
	require.NoError(t, err)
	assert.EqualValues(t, 60, pos.YesAmount)
	assert.EqualValues(t, 40, pos.NoAmount)

	_, err = store.Get(ctx, "c1", "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.AddStake(ctx, "c1", "bob", domain.SideYes, 10)
	require.NoError(t, err)
	_, err = store.AddStake(ctx, "c2", "alice", domain.SideYes, 10)
	require.NoError(t, err)

	byClaim, err := store.ListByClaim(ctx, "c1", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, byClaim, 2)

	byOwner, err := store.ListByOwner(ctx, "alice", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, byOwner, 2)

	require.NoError(t, store.MarkClaimed(ctx, "c1", "alice"))
	assert.ErrorIs(t, store.MarkClaimed(ctx, "c1", "alice"), domain.ErrAlreadyClaimed)
	assert.ErrorIs(t, store.MarkClaimed(ctx, "c9", "alice"), domain.ErrNotFound)

	got, err := store.Get(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.True(t, got.Claimed)
}
