package token

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount("17812.5", 18)
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("17812500000000000000000", 10)
	require.Equal(t, want, got)

	got, err = ParseAmount("1000", 6)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000_000), got)

	_, err = ParseAmount("0.0000001", 6)
	require.Error(t, err)
	_, err = ParseAmount("-1", 18)
	require.Error(t, err)
	_, err = ParseAmount("abc", 18)
	require.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	v, _ := new(big.Int).SetString("178125000000000000000", 10)
	require.Equal(t, "178.125", FormatAmount(v, 18))
	require.Equal(t, "0", FormatAmount(nil, 18))
	require.Equal(t, "42", FormatAmount(big.NewInt(42), 0))
}

func TestParsePrice(t *testing.T) {
	// 10 DAI (18 decimals) per whole 6-decimal sale token is 10e30 per 1e18 sale units.
	got, err := ParsePrice("10", 18, 6)
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("10000000000000000000000000000000", 10)
	require.Equal(t, want, got)

	got, err = ParsePrice("1.5", 6, 18)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_500_000), got)

	got, err = ParsePrice("100", 0, 20)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1), got)

	_, err = ParsePrice("1", 0, 19)
	require.Error(t, err)
	_, err = ParsePrice("-1", 18, 6)
	require.Error(t, err)
}
