package ido

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Event names emitted by the IDO sale contract.
const (
	EventPoolCreated = "PoolCreated"
	EventPurchased   = "SaleTokenPurchased"
	EventReferralSet = "ReferralSet"
	EventFeeToSet    = "FeeToSet"
)

const idoABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "pid", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "saleToken", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "baseToken", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "price", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "limitAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "offeringAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "startTime", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "endTime", "type": "uint256"},
      {"indexed": false, "internalType": "uint8", "name": "curveType", "type": "uint8"},
      {"indexed": false, "internalType": "string", "name": "name", "type": "string"}
    ],
    "name": "PoolCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "pid", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "buyer", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "referrer", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "baseAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "saleAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "fee", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "referralFee", "type": "uint256"}
    ],
    "name": "SaleTokenPurchased",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "referrer", "type": "address"}
    ],
    "name": "ReferralSet",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "feeTo", "type": "address"}
    ],
    "name": "FeeToSet",
    "type": "event"
  }
]`

var (
	idoABI     abi.ABI
	idoABIOnce sync.Once
	idoABIErr  error
)

// ABI returns the parsed IDO contract event ABI.
func ABI() (abi.ABI, error) {
	idoABIOnce.Do(func() {
		idoABI, idoABIErr = abi.JSON(strings.NewReader(idoABIJSON))
	})
	return idoABI, idoABIErr
}

// Topic0Hex returns the lower-case topic0 of every IDO event, for log filters.
func Topic0Hex() ([]string, error) {
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}
	names := []string{EventPoolCreated, EventPurchased, EventReferralSet, EventFeeToSet}
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, strings.ToLower(parsed.Events[name].ID.Hex()))
	}
	return out, nil
}
