package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthmarkets/settled/internal/domain"
	"github.com/truthmarkets/settled/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type claimEnv struct {
	claims *memory.ClaimStore
	params *memory.ParamsStore
	audit  *memory.AuditStore
	svc    *ClaimService
	now    time.Time
}

func newClaimEnv(t *testing.T) *claimEnv {
	t.Helper()
	env := &claimEnv{
		claims: memory.NewClaimStore(),
		params: memory.NewParamsStore(domain.Params{
			Admin:          "admin",
			FeeRecipient:   "treasury",
			ProtocolFeeBps: 100,
		}),
		audit: memory.NewAuditStore(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.svc = NewClaimService(env.claims, env.params, nil, nil, env.audit, testLogger()).
		WithClock(func() time.Time { return env.now })
	return env
}

func (e *claimEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func (e *claimEnv) create(t *testing.T) domain.Claim {
	t.Helper()
	claim, err := e.svc.Create(context.Background(), CreateClaimInput{
		Creator:       "alice",
		Description:   "BTC closes above 100k",
		Deadline:      e.now.Add(time.Hour),
		CreatorFeeBps: 100,
	})
	require.NoError(t, err)
	return claim
}

func TestCreateClaim(t *testing.T) {
	env := newClaimEnv(t)
	ctx := context.Background()

	claim := env.create(t)
	assert.NotEmpty(t, claim.ID)
	assert.Equal(t, domain.ClaimStatusOpen, claim.Status)
	assert.Equal(t, 100, claim.CreatorFeeBps)
	assert.Equal(t, 100, claim.ProtocolFeeBps, "protocol fee snapshotted from params")
	assert.Zero(t, claim.Escrow)
	assert.Nil(t, claim.Result)

	// A later protocol fee change must not reprice the existing claim.
	require.NoError(t, env.params.Update(ctx, domain.Params{
		Admin: "admin", FeeRecipient: "treasury", ProtocolFeeBps: 500,
	}))
	got, err := env.svc.Get(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.ProtocolFeeBps)

	next := env.create(t)
	assert.Equal(t, 500, next.ProtocolFeeBps)
}

func TestCreateClaimValidation(t *testing.T) {
	env := newClaimEnv(t)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, CreateClaimInput{
		Creator:  "alice",
		Deadline: env.now.Add(-time.Minute),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDeadline)

	_, err = env.svc.Create(ctx, CreateClaimInput{
		Creator:  "alice",
		Deadline: env.now, // deadline must be strictly in the future
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDeadline)

	_, err = env.svc.Create(ctx, CreateClaimInput{
		Deadline: env.now.Add(time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = env.svc.Create(ctx, CreateClaimInput{
		Creator:       "alice",
		Deadline:      env.now.Add(time.Hour),
		CreatorFeeBps: domain.BpsDenominator + 1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidFeeRate)
}

func TestCancelClaim(t *testing.T) {
	env := newClaimEnv(t)
	ctx := context.Background()
	claim := env.create(t)

	_, err := env.svc.Cancel(ctx, claim.ID, "mallory", "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	cancelled, err := env.svc.Cancel(ctx, claim.ID, "alice", "no longer relevant")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusCancelled, cancelled.Status)

	_, err = env.svc.Cancel(ctx, claim.ID, "alice", "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestCancelClaimWithStakeFails(t *testing.T) {
	env := newClaimEnv(t)
	ctx := context.Background()
	claim := env.create(t)

	_, err := env.claims.AddStake(ctx, claim.ID, domain.SideYes, 50)
	require.NoError(t, err)

	_, err = env.svc.Cancel(ctx, claim.ID, "alice", "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestBeginResolution(t *testing.T) {
	env := newClaimEnv(t)
	ctx := context.Background()
	claim := env.create(t)

	_, err := env.svc.BeginResolution(ctx, claim.ID)
	assert.ErrorIs(t, err, domain.ErrDeadlineNotReached)

	env.advance(2 * time.Hour)
	resolving, err := env.svc.BeginResolution(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusResolving, resolving.Status)

	// A second sweep hitting the same claim is a benign race.
	_, err = env.svc.BeginResolution(ctx, claim.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestResolve(t *testing.T) {
	env := newClaimEnv(t)
	ctx := context.Background()
	claim := env.create(t)
	fp := "ab12"

	_, err := env.svc.Resolve(ctx, claim.ID, true, "results/x.json", "", fp)
	assert.ErrorIs(t, err, domain.ErrDeadlineNotReached)

	env.advance(2 * time.Hour)
	resolved, err := env.svc.Resolve(ctx, claim.ID, true, "results/x.json", "", fp)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusResolved, resolved.Status)
	require.NotNil(t, resolved.Result)
	assert.True(t, *resolved.Result)
	require.NotNil(t, resolved.ResolverFingerprint)
	assert.Equal(t, fp, *resolved.ResolverFingerprint)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, env.now, *resolved.ResolvedAt)

	_, err = env.svc.Resolve(ctx, claim.ID, false, "", "", fp)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestResolveFromResolving(t *testing.T) {
	env := newClaimEnv(t)
	ctx := context.Background()
	claim := env.create(t)

	env.advance(2 * time.Hour)
	_, err := env.svc.BeginResolution(ctx, claim.ID)
	require.NoError(t, err)

	resolved, err := env.svc.Resolve(ctx, claim.ID, false, "", "", "fp")
	require.NoError(t, err)
	require.NotNil(t, resolved.Result)
	assert.False(t, *resolved.Result)
}

func TestWithdrawFees(t *testing.T) {
	env := newClaimEnv(t)
	ctx := context.Background()
	claim := env.create(t)

	_, err := env.claims.AddStake(ctx, claim.ID, domain.SideYes, 600)
	require.NoError(t, err)
	_, err = env.claims.AddStake(ctx, claim.ID, domain.SideNo, 400)
	require.NoError(t, err)

	// Not resolved yet.
	_, err = env.svc.WithdrawCreatorFees(ctx, claim.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNotResolved)

	env.advance(2 * time.Hour)
	_, err = env.svc.Resolve(ctx, claim.ID, true, "", "", "fp")
	require.NoError(t, err)

	// Nothing accrued until winners settle.
	_, err = env.svc.WithdrawCreatorFees(ctx, claim.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNoFeesAccrued)

	require.NoError(t, env.claims.AccrueFees(ctx, claim.ID, 3, 4))

	_, err = env.svc.WithdrawCreatorFees(ctx, claim.ID, "mallory")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	amount, err := env.svc.WithdrawCreatorFees(ctx, claim.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), amount)

	_, err = env.svc.WithdrawCreatorFees(ctx, claim.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNoFeesAccrued)

	// Protocol fees go to the configured fee recipient, not the creator.
	_, err = env.svc.WithdrawProtocolFees(ctx, claim.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	amount, err = env.svc.WithdrawProtocolFees(ctx, claim.ID, "treasury")
	require.NoError(t, err)
	assert.Equal(t, int64(4), amount)

	got, err := env.claims.GetByID(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000-7), got.Escrow)
}

func TestListClaims(t *testing.T) {
	env := newClaimEnv(t)
	ctx := context.Background()

	first := env.create(t)
	env.advance(time.Minute)
	second := env.create(t)
	env.advance(time.Minute)
	_, err := env.svc.Cancel(ctx, second.ID, "alice", "")
	require.NoError(t, err)

	open, err := env.svc.ListByStatus(ctx, domain.ClaimStatusOpen, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, first.ID, open[0].ID)

	mine, err := env.svc.ListByCreator(ctx, "alice", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}
