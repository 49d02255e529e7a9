package token

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	parsed  abi.ABI
	outputs map[string][]interface{}
	calls   int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	for name, method := range f.parsed.Methods {
		if !bytes.Equal(msg.Data[:4], method.ID) {
			continue
		}
		out, ok := f.outputs[name]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(out...)
	}
	return nil, errors.New("unknown selector")
}

func newFakeCaller(t *testing.T) *fakeCaller {
	parsed, err := ERC20ABI()
	require.NoError(t, err)
	return &fakeCaller{
		parsed: parsed,
		outputs: map[string][]interface{}{
			"decimals":  {uint8(6)},
			"symbol":    {"USDC"},
			"name":      {"USD Coin"},
			"balanceOf": {big.NewInt(12345)},
		},
	}
}

func TestFetchMeta(t *testing.T) {
	caller := newFakeCaller(t)
	meta, err := FetchMeta(context.Background(), caller, dai, nil)
	require.NoError(t, err)
	require.Equal(t, uint8(6), meta.Decimals)
	require.Equal(t, "USDC", meta.Symbol)
	require.Equal(t, "USD Coin", meta.Name)
	require.Equal(t, dai.Hex(), meta.Address)
}

func TestBalanceOf(t *testing.T) {
	caller := newFakeCaller(t)
	bal, err := BalanceOf(context.Background(), caller, dai, alice, nil)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(12345), bal)
}

func TestResolverCachesAndFallsBack(t *testing.T) {
	ctx := context.Background()
	caller := newFakeCaller(t)
	resolver := NewResolver(caller, nil, nil)

	require.Equal(t, uint8(6), resolver.Decimals(ctx, dai))
	calls := caller.calls
	require.Equal(t, uint8(6), resolver.Decimals(ctx, dai))
	require.Equal(t, calls, caller.calls)

	delete(caller.outputs, "decimals")
	require.Equal(t, DefaultDecimals, resolver.Decimals(ctx, alice))

	require.Equal(t, DefaultDecimals, NewResolver(nil, nil, nil).Decimals(ctx, dai))
}
