package ledger

import "math/big"

const (
	// FeeBps is the platform fee taken from every payment.
	FeeBps = 100
	// ReferralBps is paid to the buyer's referrer, when one is set.
	ReferralBps = 100

	bpsDenominator = 10_000
)

// Split is how one payment is distributed. Fee + Referral + Owner equals the
// payment exactly; rounding dust goes to the owner.
type Split struct {
	Fee      *big.Int
	Referral *big.Int
	Owner    *big.Int
}

// SplitPayment divides amount between fee recipient, referrer and pool owner.
func SplitPayment(amount *big.Int, referred bool) Split {
	fee := bps(amount, FeeBps)
	referral := new(big.Int)
	if referred {
		referral = bps(amount, ReferralBps)
	}
	owner := new(big.Int).Sub(amount, fee)
	owner.Sub(owner, referral)
	return Split{Fee: fee, Referral: referral, Owner: owner}
}

func bps(amount *big.Int, points int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(points))
	return out.Quo(out, big.NewInt(bpsDenominator))
}
