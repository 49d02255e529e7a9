package ledger

import (
	"math/big"
)

// Prices are base units per 10^18 sale-token units.
var priceScale = big.NewInt(1_000_000_000_000_000_000)

// Curve converts a payment into sale-token units for a pool.
type Curve interface {
	// SaleAmount returns the units bought with baseIn at the pool's current
	// sold level, enforcing the caps this curve is responsible for.
	SaleAmount(p *Pool, baseIn *big.Int) (*big.Int, error)
	// Cost returns the base units needed to buy amount from the current sold level.
	Cost(p *Pool, amount *big.Int) *big.Int
}

func curveFor(t CurveType) (Curve, bool) {
	switch t {
	case CurveDefault:
		return staticCurve{}, true
	case CurveLinear:
		return linearCurve{}, true
	default:
		return nil, false
	}
}

// staticCurve sells at a flat price. Both the per-call limit and the lifetime
// offering surface as ErrExceedLimit, which is what the contract reports.
type staticCurve struct{}

func (staticCurve) SaleAmount(p *Pool, baseIn *big.Int) (*big.Int, error) {
	out := new(big.Int).Mul(baseIn, priceScale)
	out.Quo(out, p.Price)
	if out.Cmp(p.LimitAmount) > 0 {
		return nil, ErrExceedLimit
	}
	if new(big.Int).Add(p.Sold, out).Cmp(p.OfferingAmount) > 0 {
		return nil, ErrExceedLimit
	}
	return out, nil
}

func (staticCurve) Cost(p *Pool, amount *big.Int) *big.Int {
	cost := new(big.Int).Mul(amount, p.Price)
	return cost.Quo(cost, priceScale)
}

// linearCurve prices unit x (counted from the first unit sold) at
//
//	p(x) = S + (E-S) * x / O
//
// where S and E are the start and end prices and O the offering amount. Buying
// q units from sold level s costs the integral of p over [s, s+q]:
//
//	cost = (S*q + (E-S)*((s+q)^2 - s^2) / (2*O)) / 10^18
//
// Solving cost = P for q gives A*q^2 + B*q - C = 0 with A = E-S,
// B = 2*(O*S + A*s), C = 2*O*P*10^18. The root is taken in the form
// 2C / (B + sqrt(B^2 + 4AC)), which stays defined when A is zero or negative.
type linearCurve struct{}

func (linearCurve) SaleAmount(p *Pool, baseIn *big.Int) (*big.Int, error) {
	startPrice, endPrice := p.CurveParams[0], p.CurveParams[1]
	offering, sold := p.OfferingAmount, p.Sold

	a := new(big.Int).Sub(endPrice, startPrice)

	b := new(big.Int).Mul(offering, startPrice)
	b.Add(b, new(big.Int).Mul(a, sold))
	b.Lsh(b, 1)

	c := new(big.Int).Mul(offering, baseIn)
	c.Mul(c, priceScale)
	c.Lsh(c, 1)

	disc := new(big.Int).Mul(b, b)
	disc.Add(disc, new(big.Int).Mul(new(big.Int).Lsh(a, 2), c))
	if disc.Sign() < 0 {
		// falling curve: the payment is more than the rest of the offering costs
		return nil, ErrExceedOffering
	}

	den := new(big.Int).Sqrt(disc)
	den.Add(den, b)
	if den.Sign() <= 0 {
		return nil, ErrExceedOffering
	}

	out := new(big.Int).Lsh(c, 1)
	out.Quo(out, den)

	if new(big.Int).Add(sold, out).Cmp(offering) > 0 {
		return nil, ErrExceedOffering
	}
	if out.Cmp(p.LimitAmount) > 0 {
		return nil, ErrExceedLimit
	}
	return out, nil
}

func (linearCurve) Cost(p *Pool, amount *big.Int) *big.Int {
	startPrice, endPrice := p.CurveParams[0], p.CurveParams[1]
	offering, sold := p.OfferingAmount, p.Sold

	// 2*O*S*q + (E-S)*(2*s*q + q^2), over 2*O*10^18
	num := new(big.Int).Mul(offering, startPrice)
	num.Mul(num, amount)
	num.Lsh(num, 1)

	span := new(big.Int).Lsh(sold, 1)
	span.Add(span, amount)
	span.Mul(span, amount)
	span.Mul(span, new(big.Int).Sub(endPrice, startPrice))
	num.Add(num, span)

	den := new(big.Int).Lsh(offering, 1)
	den.Mul(den, priceScale)
	return num.Quo(num, den)
}
