package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), priceScale)
}

// units returns n * 10^exp.
func units(n int64, exp int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
}

func requireAmount(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	require.Zero(t, want.Cmp(got), "want %s, got %s", want, got)
}

func linearPool(offering int64) *Pool {
	return &Pool{
		LimitAmount:    e18(offering),
		OfferingAmount: e18(offering),
		CurveType:      CurveLinear,
		CurveParams:    []*big.Int{e18(100), e18(225)},
		Sold:           new(big.Int),
		Raised:         new(big.Int),
	}
}

func TestStaticCurve(t *testing.T) {
	pool := &Pool{
		Price:          e18(10),
		LimitAmount:    e18(100000),
		OfferingAmount: e18(10000),
		Sold:           new(big.Int),
	}
	curve := staticCurve{}

	out, err := curve.SaleAmount(pool, e18(10000))
	require.NoError(t, err)
	requireAmount(t, e18(1000), out)
	requireAmount(t, e18(10000), curve.Cost(pool, out))

	pool.Sold = e18(1000)
	_, err = curve.SaleAmount(pool, e18(100000))
	require.ErrorIs(t, err, ErrExceedLimit)

	out, err = curve.SaleAmount(pool, e18(90000))
	require.NoError(t, err)
	requireAmount(t, e18(9000), out)
}

func TestStaticCurvePerCallLimit(t *testing.T) {
	pool := &Pool{
		Price:          e18(1),
		LimitAmount:    e18(100),
		OfferingAmount: e18(10000),
		Sold:           new(big.Int),
	}
	_, err := staticCurve{}.SaleAmount(pool, e18(101))
	require.ErrorIs(t, err, ErrExceedLimit)

	out, err := staticCurve{}.SaleAmount(pool, e18(100))
	require.NoError(t, err)
	requireAmount(t, e18(100), out)
}

func TestLinearCurveFixtures(t *testing.T) {
	curve := linearCurve{}
	pool := linearPool(500)

	out, err := curve.SaleAmount(pool, units(178125, 17))
	require.NoError(t, err)
	requireAmount(t, e18(150), out)

	pool.Sold = out
	out, err = curve.SaleAmount(pool, units(634375, 17))
	require.NoError(t, err)
	requireAmount(t, e18(350), out)

	pool.Sold = e18(500)
	_, err = curve.SaleAmount(pool, e18(1000))
	require.ErrorIs(t, err, ErrExceedOffering)

	out, err = curve.SaleAmount(linearPool(50), units(178125, 16))
	require.NoError(t, err)
	requireAmount(t, e18(15), out)
}

func TestLinearCurveCost(t *testing.T) {
	curve := linearCurve{}
	pool := linearPool(500)

	requireAmount(t, units(178125, 17), curve.Cost(pool, e18(150)))
	requireAmount(t, e18(81250), curve.Cost(pool, e18(500)))

	pool.Sold = e18(150)
	requireAmount(t, units(634375, 17), curve.Cost(pool, e18(350)))
}

func TestLinearCurveLimitBelowOffering(t *testing.T) {
	pool := linearPool(500)
	pool.LimitAmount = e18(100)

	_, err := linearCurve{}.SaleAmount(pool, units(178125, 17))
	require.ErrorIs(t, err, ErrExceedLimit)
}

func TestLinearCurveFalling(t *testing.T) {
	pool := linearPool(100)
	pool.CurveParams = []*big.Int{e18(200), e18(100)}
	curve := linearCurve{}

	// full offering costs (200 + 100) / 2 * 100
	requireAmount(t, e18(15000), curve.Cost(pool, e18(100)))

	out, err := curve.SaleAmount(pool, e18(15000))
	require.NoError(t, err)
	requireAmount(t, e18(100), out)

	_, err = curve.SaleAmount(pool, e18(15001))
	require.ErrorIs(t, err, ErrExceedOffering)
}

func TestCurveFor(t *testing.T) {
	_, ok := curveFor(CurveDefault)
	require.True(t, ok)
	_, ok = curveFor(CurveLinear)
	require.True(t, ok)
	_, ok = curveFor(CurveType(7))
	require.False(t, ok)
}

func TestParseCurveType(t *testing.T) {
	ct, err := ParseCurveType("linear")
	require.NoError(t, err)
	require.Equal(t, CurveLinear, ct)

	ct, err = ParseCurveType("")
	require.NoError(t, err)
	require.Equal(t, CurveDefault, ct)

	_, err = ParseCurveType("exponential")
	require.Error(t, err)
	require.Equal(t, "curve(9)", CurveType(9).String())
}
