package main

import (
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"idoScope/internal/ledger"
	"idoScope/internal/scenario"
)

func TestWriteReportIncludesRemaining(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.json")
	report := &scenario.Report{
		RunID: "run-1",
		Name:  "default-curve",
		Steps: []scenario.StepResult{
			{Index: 0, Action: "purchase", From: "bob", SaleAmount: "1000"},
			{Index: 1, Action: "purchase", From: "bob", Err: errors.New("IDO: exceed limited amount")},
		},
		Pools: []ledger.Pool{{
			ID:             0,
			Name:           "YFI-DAI Pool",
			OfferingAmount: big.NewInt(10000),
			Sold:           big.NewInt(1000),
			Raised:         big.NewInt(10000),
		}},
	}
	require.NoError(t, writeReport(path, report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got reportFile
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.Pools, 1)
	require.Equal(t, "9000", got.Pools[0].Remaining)
	require.Equal(t, "default", got.Pools[0].Curve)
	require.Equal(t, "IDO: exceed limited amount", got.Steps[1].Revert)
}
