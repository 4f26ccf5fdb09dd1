package service

import (
	"github.com/truthmarkets/settled/internal/domain"
)

// PayoutBreakdown itemizes the settlement of one winning position. All
// values are in the same integer unit as stakes.
type PayoutBreakdown struct {
	UserStake          int64 `json:"user_stake"`
	UserShareBps       int64 `json:"user_share_bps"`
	WinningsFromLosers int64 `json:"winnings_from_losers"`
	CreatorFee         int64 `json:"creator_fee"`
	ProtocolFee        int64 `json:"protocol_fee"`
	NetWinnings        int64 `json:"net_winnings"`
	TotalPayout        int64 `json:"total_payout"`
}

// Fees returns the combined fee deduction.
func (b PayoutBreakdown) Fees() int64 {
	return b.CreatorFee + b.ProtocolFee
}

// ComputePayout applies the proportional payout formula for one position
// on a resolved claim. Integer arithmetic with truncating division at each
// step:
//
//	user_share_bps       = floor(user_stake * 10000 / winning_total)
//	winnings_from_losers = floor(losing_total * user_share_bps / 10000)
//	fees                 = floor(winnings_from_losers * fee_bps / 10000)
//	total_payout         = user_stake + winnings_from_losers - fees
//
// The fee deduction is split between creator and protocol: the creator
// share is floored separately and the protocol receives the remainder, so
// the split always sums to the single-fee figure of the formula above.
//
// It returns domain.ErrNoWinnings when the position holds no stake on the
// winning side.
func ComputePayout(claim domain.Claim, pos domain.Position) (PayoutBreakdown, error) {
	if claim.Status != domain.ClaimStatusResolved || claim.Result == nil {
		return PayoutBreakdown{}, domain.ErrNotResolved
	}

	winningSide := domain.SideNo
	if *claim.Result {
		winningSide = domain.SideYes
	}
	losingSide := domain.SideYes
	if winningSide == domain.SideYes {
		losingSide = domain.SideNo
	}

	userStake := pos.AmountOn(winningSide)
	if userStake == 0 {
		return PayoutBreakdown{}, domain.ErrNoWinnings
	}

	winningTotal := claim.StakeOn(winningSide)
	losingTotal := claim.StakeOn(losingSide)

	userShareBps := userStake * domain.BpsDenominator / winningTotal
	winnings := losingTotal * userShareBps / domain.BpsDenominator

	feeBps := int64(claim.CreatorFeeBps + claim.ProtocolFeeBps)
	fees := winnings * feeBps / domain.BpsDenominator
	creatorFee := winnings * int64(claim.CreatorFeeBps) / domain.BpsDenominator
	protocolFee := fees - creatorFee

	net := winnings - fees

	return PayoutBreakdown{
		UserStake:          userStake,
		UserShareBps:       userShareBps,
		WinningsFromLosers: winnings,
		CreatorFee:         creatorFee,
		ProtocolFee:        protocolFee,
		NetWinnings:        net,
		TotalPayout:        userStake + net,
	}, nil
}

// ComputeRefund returns the refund due on a cancelled claim: everything
// the owner staked, both sides. domain.ErrNoWinnings when zero.
func ComputeRefund(claim domain.Claim, pos domain.Position) (int64, error) {
	if claim.Status != domain.ClaimStatusCancelled {
		return 0, domain.ErrInvalidStatus
	}
	refund := pos.Total()
	if refund == 0 {
		return 0, domain.ErrNoWinnings
	}
	return refund, nil
}
