package aggregate

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"idoScope/internal/ido"
	"idoScope/internal/model"
)

// Accumulator holds purchase totals for one pool window.
type Accumulator struct {
	ChainID       uint64
	Contract      string
	PoolID        uint64
	WindowStart   uint64
	WindowEnd     uint64
	PurchaseCount uint64
	BaseRaised    *big.Int
	SaleSold      *big.Int
	Fees          *big.Int
	ReferralFees  *big.Int
	LastBlock     uint64
	LastTS        uint64

	buyers map[string]struct{}
}

func NewAccumulator(chainID uint64, contract string, poolID, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		ChainID:      chainID,
		Contract:     contract,
		PoolID:       poolID,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		BaseRaised:   big.NewInt(0),
		SaleSold:     big.NewInt(0),
		Fees:         big.NewInt(0),
		ReferralFees: big.NewInt(0),
		buyers:       make(map[string]struct{}),
	}
}

// UniqueBuyers returns the number of distinct buyers seen in the window.
func (a *Accumulator) UniqueBuyers() uint64 {
	return uint64(len(a.buyers))
}

// AddPurchase folds one purchase into the window.
func (a *Accumulator) AddPurchase(record model.TypedEventRecord, purchase model.PurchaseEventData) error {
	amounts := []struct {
		raw    string
		target *big.Int
	}{
		{purchase.BaseAmount, a.BaseRaised},
		{purchase.SaleAmount, a.SaleSold},
		{purchase.Fee, a.Fees},
		{purchase.ReferralFee, a.ReferralFees},
	}
	parsed := make([]*big.Int, len(amounts))
	for i, amt := range amounts {
		v, err := parseBigInt(amt.raw)
		if err != nil {
			return err
		}
		if v.Sign() < 0 {
			return fmt.Errorf("negative amount %s", amt.raw)
		}
		parsed[i] = v
	}
	for i, amt := range amounts {
		amt.target.Add(amt.target, parsed[i])
	}

	a.buyers[strings.ToLower(purchase.Buyer)] = struct{}{}
	a.PurchaseCount++
	if record.Timestamp >= a.LastTS {
		a.LastTS = record.Timestamp
		a.LastBlock = record.BlockNumber
	}
	return nil
}

// decodePurchase extracts the purchase payload from a typed event record.
func decodePurchase(record model.TypedEventRecord) (model.PurchaseEventData, error) {
	var purchase model.PurchaseEventData
	if record.EventName != ido.EventPurchased {
		return purchase, fmt.Errorf("not a purchase: %s", record.EventName)
	}
	if err := json.Unmarshal(record.Decoded, &purchase); err != nil {
		return purchase, fmt.Errorf("decode purchase: %w", err)
	}
	return purchase, nil
}

func decodePoolCreated(record model.TypedEventRecord) (model.PoolCreatedEventData, error) {
	var created model.PoolCreatedEventData
	if err := json.Unmarshal(record.Decoded, &created); err != nil {
		return created, fmt.Errorf("decode pool created: %w", err)
	}
	return created, nil
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}
