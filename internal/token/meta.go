package token

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// DefaultDecimals is used for tokens whose metadata cannot be resolved.
const DefaultDecimals uint8 = 18

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Meta captures ERC-20 metadata.
type Meta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// MetaCache caches token metadata by address.
type MetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]Meta
}

func NewMetaCache() *MetaCache {
	return &MetaCache{data: make(map[common.Address]Meta)}
}

func (c *MetaCache) Get(address common.Address) (Meta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *MetaCache) Set(address common.Address, meta Meta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// Resolver returns token metadata from the cache, falling back to RPC.
type Resolver struct {
	caller ContractCaller
	cache  *MetaCache
	logger *zap.Logger
}

// NewResolver builds a Resolver. caller may be nil, in which case unknown
// tokens resolve to DefaultDecimals.
func NewResolver(caller ContractCaller, cache *MetaCache, logger *zap.Logger) *Resolver {
	if cache == nil {
		cache = NewMetaCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{caller: caller, cache: cache, logger: logger}
}

// Decimals returns token decimals. Lookup failures are logged and cached as
// DefaultDecimals so a single bad token does not stall aggregation.
func (r *Resolver) Decimals(ctx context.Context, token common.Address) uint8 {
	if meta, ok := r.cache.Get(token); ok {
		return meta.Decimals
	}
	if r.caller == nil {
		return DefaultDecimals
	}
	meta, err := FetchMeta(ctx, r.caller, token, r.logger)
	if err != nil {
		r.logger.Warn("token metadata fetch failed", zap.String("token", token.Hex()), zap.Error(err))
		meta = Meta{Address: token.Hex(), Decimals: DefaultDecimals}
	}
	r.cache.Set(token, meta)
	return meta.Decimals
}

// FetchMeta loads token metadata via ERC-20 calls.
func FetchMeta(ctx context.Context, caller ContractCaller, token common.Address, logger *zap.Logger) (Meta, error) {
	meta := Meta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("contract caller is nil")
	}

	stringABI, err := ERC20ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := call(ctx, caller, token, stringABI, "decimals", nil)
	if err != nil {
		return meta, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return meta, fmt.Errorf("decimals unexpected type %T", values[0])
	}
	meta.Decimals = decimals

	meta.Symbol = readText(ctx, caller, token, stringABI, bytes32ABI, "symbol", logger)
	meta.Name = readText(ctx, caller, token, stringABI, bytes32ABI, "name", logger)
	return meta, nil
}

// BalanceOf reads an ERC-20 balance at blockNumber (nil for latest).
func BalanceOf(ctx context.Context, caller ContractCaller, token, holder common.Address, blockNumber *big.Int) (*big.Int, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, err
	}
	values, err := call(ctx, caller, token, parsed, "balanceOf", blockNumber, holder)
	if err != nil {
		return nil, err
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf unexpected type %T", values[0])
	}
	return bal, nil
}

func readText(ctx context.Context, caller ContractCaller, token common.Address, stringABI, bytes32ABI abi.ABI, method string, logger *zap.Logger) string {
	if values, err := call(ctx, caller, token, stringABI, method, nil); err == nil {
		if text, ok := values[0].(string); ok {
			return text
		}
	}
	values, err := call(ctx, caller, token, bytes32ABI, method, nil)
	if err != nil {
		if logger != nil {
			logger.Debug(method+" call failed", zap.String("token", token.Hex()), zap.Error(err))
		}
		return ""
	}
	if raw, ok := values[0].([32]byte); ok {
		return string(bytes.TrimRight(raw[:], "\x00"))
	}
	return ""
}

func call(ctx context.Context, caller ContractCaller, token common.Address, parsed abi.ABI, method string, blockNumber *big.Int, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}
