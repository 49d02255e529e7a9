package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CurveType selects the pricing curve of a pool.
type CurveType uint8

const (
	CurveDefault CurveType = 0
	CurveLinear  CurveType = 1
)

func (c CurveType) String() string {
	switch c {
	case CurveDefault:
		return "default"
	case CurveLinear:
		return "linear"
	default:
		return fmt.Sprintf("curve(%d)", uint8(c))
	}
}

// ParseCurveType accepts "default"/"static"/"linear" or the numeric value.
func ParseCurveType(s string) (CurveType, error) {
	switch s {
	case "", "default", "static", "0":
		return CurveDefault, nil
	case "linear", "1":
		return CurveLinear, nil
	default:
		return 0, fmt.Errorf("unknown curve type %q", s)
	}
}

// PoolParams are the createPool arguments.
type PoolParams struct {
	Name           string
	SaleToken      common.Address
	BaseToken      common.Address
	Price          *big.Int
	LimitAmount    *big.Int
	OfferingAmount *big.Int
	StartTime      uint64
	EndTime        uint64
	CurveType      CurveType
	CurveParams    []*big.Int
}

// Pool is a sale pool. Everything except Sold and Raised is fixed at creation.
type Pool struct {
	ID             uint64
	Name           string
	Owner          common.Address
	SaleToken      common.Address
	BaseToken      common.Address
	Price          *big.Int
	LimitAmount    *big.Int
	OfferingAmount *big.Int
	StartTime      uint64
	EndTime        uint64
	CurveType      CurveType
	CurveParams    []*big.Int
	Sold           *big.Int
	Raised         *big.Int
}

// Remaining returns the sale-token units still available.
func (p *Pool) Remaining() *big.Int {
	return new(big.Int).Sub(p.OfferingAmount, p.Sold)
}

// Open reports whether ts falls in the inclusive sale window.
func (p *Pool) Open(ts uint64) bool {
	return ts >= p.StartTime && ts <= p.EndTime
}

func (p *Pool) clone() Pool {
	out := *p
	out.Price = copyInt(p.Price)
	out.LimitAmount = copyInt(p.LimitAmount)
	out.OfferingAmount = copyInt(p.OfferingAmount)
	out.Sold = copyInt(p.Sold)
	out.Raised = copyInt(p.Raised)
	out.CurveParams = make([]*big.Int, len(p.CurveParams))
	for i, v := range p.CurveParams {
		out.CurveParams[i] = copyInt(v)
	}
	return out
}

func validatePoolParams(params PoolParams, native func(common.Address) bool) error {
	if native(params.SaleToken) {
		return fmt.Errorf("%w: sale token cannot be the native currency", ErrInvalidPool)
	}
	if params.StartTime > params.EndTime {
		return fmt.Errorf("%w: start time %d after end time %d", ErrInvalidPool, params.StartTime, params.EndTime)
	}
	if !positive(params.OfferingAmount) {
		return fmt.Errorf("%w: offering amount must be positive", ErrInvalidPool)
	}
	if !positive(params.LimitAmount) {
		return fmt.Errorf("%w: limit amount must be positive", ErrInvalidPool)
	}

	switch params.CurveType {
	case CurveDefault:
		if !positive(params.Price) {
			return fmt.Errorf("%w: price must be positive", ErrInvalidPool)
		}
	case CurveLinear:
		if len(params.CurveParams) != 2 {
			return fmt.Errorf("%w: linear curve needs [startPrice, endPrice], got %d values", ErrInvalidPool, len(params.CurveParams))
		}
		if !positive(params.CurveParams[0]) || !positive(params.CurveParams[1]) {
			return fmt.Errorf("%w: linear curve prices must be positive", ErrInvalidPool)
		}
	default:
		return fmt.Errorf("%w: unknown curve type %d", ErrInvalidPool, params.CurveType)
	}
	return nil
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
