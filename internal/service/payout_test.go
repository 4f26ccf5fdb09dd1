package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthmarkets/settled/internal/domain"
)

func resolvedClaim(yes, no int64, result bool, creatorBps, protocolBps int) domain.Claim {
	return domain.Claim{
		ID:             "claim-1",
		Status:         domain.ClaimStatusResolved,
		Result:         &result,
		YesStake:       yes,
		NoStake:        no,
		Escrow:         yes + no,
		CreatorFeeBps:  creatorBps,
		ProtocolFeeBps: protocolBps,
	}
}

func TestComputePayoutProportionalShare(t *testing.T) {
	claim := resolvedClaim(600, 400, true, 100, 100)
	pos := domain.Position{ClaimID: claim.ID, Owner: "alice", YesAmount: 100}

	b, err := ComputePayout(claim, pos)
	require.NoError(t, err)

	assert.Equal(t, int64(100), b.UserStake)
	assert.Equal(t, int64(1666), b.UserShareBps)
	assert.Equal(t, int64(66), b.WinningsFromLosers)
	assert.Equal(t, int64(0), b.CreatorFee)
	assert.Equal(t, int64(1), b.ProtocolFee)
	assert.Equal(t, int64(1), b.Fees())
	assert.Equal(t, int64(65), b.NetWinnings)
	assert.Equal(t, int64(165), b.TotalPayout)
}

func TestComputePayout(t *testing.T) {
	tests := []struct {
		name       string
		claim      domain.Claim
		pos        domain.Position
		wantPayout int64
		wantErr    error
	}{
		{
			name:       "sole winner takes entire losing pool",
			claim:      resolvedClaim(600, 400, true, 0, 0),
			pos:        domain.Position{YesAmount: 600},
			wantPayout: 1000,
		},
		{
			name:       "no losing stake pays back the stake only",
			claim:      resolvedClaim(500, 0, true, 100, 100),
			pos:        domain.Position{YesAmount: 500},
			wantPayout: 500,
		},
		{
			name:       "no result pays the no side",
			claim:      resolvedClaim(600, 400, false, 0, 200),
			pos:        domain.Position{NoAmount: 400},
			wantPayout: 400 + 600 - 12,
		},
		{
			name:       "fee truncates to zero on tiny winnings",
			claim:      resolvedClaim(100, 400, true, 100, 100),
			pos:        domain.Position{YesAmount: 1},
			wantPayout: 5, // share 100 bps, winnings 4, fees floor(4*200/10000)=0
		},
		{
			name:    "loser has no winnings",
			claim:   resolvedClaim(600, 400, true, 0, 0),
			pos:     domain.Position{NoAmount: 400},
			wantErr: domain.ErrNoWinnings,
		},
		{
			name:    "mixed position settles the winning side only",
			claim:   resolvedClaim(600, 400, true, 0, 0),
			pos:     domain.Position{YesAmount: 300, NoAmount: 100},
			wantErr: nil,
		},
		{
			name:    "unresolved claim",
			claim:   domain.Claim{Status: domain.ClaimStatusOpen, YesStake: 10, NoStake: 10},
			pos:     domain.Position{YesAmount: 10},
			wantErr: domain.ErrNotResolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ComputePayout(tt.claim, tt.pos)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantPayout != 0 {
				assert.Equal(t, tt.wantPayout, b.TotalPayout)
			}
			assert.GreaterOrEqual(t, b.NetWinnings, int64(0))
			assert.LessOrEqual(t, b.TotalPayout, tt.claim.Escrow)
		})
	}
}

// The sum of every winner's payout plus accrued fees can never exceed the
// escrow the stakes built up, regardless of truncation.
func TestComputePayoutConservesEscrow(t *testing.T) {
	claim := resolvedClaim(601, 399, true, 150, 100)
	winners := []domain.Position{
		{Owner: "a", YesAmount: 1},
		{Owner: "b", YesAmount: 100},
		{Owner: "c", YesAmount: 500},
	}

	var paid, fees int64
	for _, pos := range winners {
		b, err := ComputePayout(claim, pos)
		require.NoError(t, err)
		paid += b.TotalPayout
		fees += b.Fees()
	}
	assert.LessOrEqual(t, paid+fees, claim.Escrow)
}

func TestComputeRefund(t *testing.T) {
	cancelled := domain.Claim{Status: domain.ClaimStatusCancelled}

	refund, err := ComputeRefund(cancelled, domain.Position{YesAmount: 70, NoAmount: 30})
	require.NoError(t, err)
	assert.Equal(t, int64(100), refund)

	_, err = ComputeRefund(cancelled, domain.Position{})
	assert.ErrorIs(t, err, domain.ErrNoWinnings)

	_, err = ComputeRefund(domain.Claim{Status: domain.ClaimStatusOpen}, domain.Position{YesAmount: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = ComputeRefund(domain.Claim{Status: domain.ClaimStatusResolved}, domain.Position{YesAmount: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}
