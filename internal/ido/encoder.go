package ido

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PoolCreated mirrors the PoolCreated event arguments.
type PoolCreated struct {
	PoolID         uint64
	Owner          common.Address
	SaleToken      common.Address
	BaseToken      common.Address
	Price          *big.Int
	LimitAmount    *big.Int
	OfferingAmount *big.Int
	StartTime      uint64
	EndTime        uint64
	CurveType      uint8
	Name           string
}

// Purchased mirrors the SaleTokenPurchased event arguments.
type Purchased struct {
	PoolID      uint64
	Buyer       common.Address
	Referrer    common.Address
	BaseAmount  *big.Int
	SaleAmount  *big.Int
	Fee         *big.Int
	ReferralFee *big.Int
}

// Encoder packs IDO events into logs the way the contract emits them.
type Encoder struct {
	parsed abi.ABI
}

func NewEncoder() (*Encoder, error) {
	parsed, err := ABI()
	if err != nil {
		return nil, fmt.Errorf("parse ido abi: %w", err)
	}
	return &Encoder{parsed: parsed}, nil
}

func (e *Encoder) PoolCreated(contract common.Address, ev PoolCreated) (types.Log, error) {
	return e.pack(contract, EventPoolCreated,
		[]common.Hash{uintTopic(ev.PoolID), addressTopic(ev.Owner)},
		ev.SaleToken,
		ev.BaseToken,
		orZero(ev.Price),
		orZero(ev.LimitAmount),
		orZero(ev.OfferingAmount),
		new(big.Int).SetUint64(ev.StartTime),
		new(big.Int).SetUint64(ev.EndTime),
		ev.CurveType,
		ev.Name,
	)
}

func (e *Encoder) Purchased(contract common.Address, ev Purchased) (types.Log, error) {
	return e.pack(contract, EventPurchased,
		[]common.Hash{uintTopic(ev.PoolID), addressTopic(ev.Buyer)},
		ev.Referrer,
		orZero(ev.BaseAmount),
		orZero(ev.SaleAmount),
		orZero(ev.Fee),
		orZero(ev.ReferralFee),
	)
}

func (e *Encoder) ReferralSet(contract, user, referrer common.Address) (types.Log, error) {
	return e.pack(contract, EventReferralSet, []common.Hash{addressTopic(user), addressTopic(referrer)})
}

func (e *Encoder) FeeToSet(contract, feeTo common.Address) (types.Log, error) {
	return e.pack(contract, EventFeeToSet, []common.Hash{addressTopic(feeTo)})
}

func (e *Encoder) pack(contract common.Address, name string, indexed []common.Hash, args ...interface{}) (types.Log, error) {
	event, ok := e.parsed.Events[name]
	if !ok {
		return types.Log{}, fmt.Errorf("unknown event %s", name)
	}
	data, err := event.Inputs.NonIndexed().Pack(args...)
	if err != nil {
		return types.Log{}, fmt.Errorf("pack %s: %w", name, err)
	}
	topics := make([]common.Hash, 0, len(indexed)+1)
	topics = append(topics, event.ID)
	topics = append(topics, indexed...)
	return types.Log{Address: contract, Topics: topics, Data: data}, nil
}

func uintTopic(v uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(v))
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
