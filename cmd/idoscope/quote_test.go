package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"idoScope/internal/config"
	"idoScope/internal/ledger"
)

func TestQuotePoolLinear(t *testing.T) {
	pool, baseIn, err := quotePool(config.QuoteConfig{
		Curve:        "linear",
		StartPrice:   "100",
		EndPrice:     "225",
		Limit:        "500",
		Offering:     "500",
		Sold:         "0",
		Amount:       "17812.5",
		SaleDecimals: 18,
		BaseDecimals: 18,
	})
	require.NoError(t, err)
	require.Len(t, pool.CurveParams, 2)
	require.Equal(t, "17812500000000000000000", baseIn.String())

	q, err := ledger.QuotePool(pool, baseIn, false)
	require.NoError(t, err)
	require.Equal(t, "150000000000000000000", q.SaleAmount.String())
}

func TestQuotePoolSixDecimalSaleToken(t *testing.T) {
	pool, baseIn, err := quotePool(config.QuoteConfig{
		Curve:        "default",
		Price:        "10",
		Limit:        "1000",
		Offering:     "1000",
		Sold:         "0",
		Amount:       "100",
		SaleDecimals: 6,
		BaseDecimals: 18,
	})
	require.NoError(t, err)

	q, err := ledger.QuotePool(pool, baseIn, false)
	require.NoError(t, err)
	require.Equal(t, "10000000", q.SaleAmount.String())

	pool, baseIn, err = quotePool(config.QuoteConfig{
		Curve:        "linear",
		StartPrice:   "100",
		EndPrice:     "225",
		Limit:        "500",
		Offering:     "500",
		Sold:         "0",
		Amount:       "17812.5",
		SaleDecimals: 6,
		BaseDecimals: 18,
	})
	require.NoError(t, err)

	q, err = ledger.QuotePool(pool, baseIn, false)
	require.NoError(t, err)
	require.Equal(t, "150000000", q.SaleAmount.String())
}

func TestQuotePoolRejectsBadInput(t *testing.T) {
	_, _, err := quotePool(config.QuoteConfig{Curve: "cubic"})
	require.Error(t, err)

	_, _, err = quotePool(config.QuoteConfig{Curve: "default", Limit: "1", Offering: "1", Sold: "0", Price: "x"})
	require.ErrorContains(t, err, "price")
}

func TestQuoteCommand(t *testing.T) {
	cmd := newQuoteCmd()
	cmd.Flags().String("config", "", "")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--price=100", "--limit=500", "--offering=1000", "--amount=10000", "--referred",
	})
	require.NoError(t, cmd.Execute())

	var got quoteOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, "default", got.Curve)
	require.Equal(t, "100", got.SaleAmount)
	require.Equal(t, "100", got.Fee)
	require.Equal(t, "100", got.ReferralFee)
	require.Equal(t, "9800", got.OwnerAmount)
	require.Equal(t, "100", got.SoldAfter)
}
