package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2000), cfg.BatchSize)
	require.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	require.True(t, cfg.CheckpointEnabled)
	require.Empty(t, cfg.Addresses)
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Setenv("IDOSCOPE_RPC", "http://env:8545")
	t.Setenv("IDOSCOPE_ADDRESS", "0xaa, 0xbb,")
	t.Setenv("IDOSCOPE_BATCH_SIZE", "50")

	flags := pflag.NewFlagSet("index", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Uint64("batch-size", 2000, "")
	flags.Uint64("confirmations", 0, "")
	require.NoError(t, flags.Parse([]string{"--confirmations=12"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	require.Equal(t, "http://env:8545", cfg.RPCURL)
	require.Equal(t, []string{"0xaa", "0xbb"}, cfg.Addresses)
	require.Equal(t, uint64(50), cfg.BatchSize)
	require.Equal(t, uint64(12), cfg.Confirmations)

	require.NoError(t, flags.Parse([]string{"--rpc=http://flag:8545"}))
	cfg, err = Load("", flags)
	require.NoError(t, err)
	require.Equal(t, "http://flag:8545", cfg.RPCURL)
}

func TestLoadDecodeFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idoscope.yaml")
	data := []byte(`
in: ./data/sim_logs.jsonl
topic0-map:
  "0xabc": SaleTokenPurchased
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadDecode(path, nil)
	require.NoError(t, err)
	require.Equal(t, "./data/sim_logs.jsonl", cfg.In)
	require.Equal(t, "./data/typed_events.jsonl", cfg.Out)
	require.Equal(t, map[string]string{"0xabc": "SaleTokenPurchased"}, cfg.Topic0Map)

	_, err = LoadDecode(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestParseStringMap(t *testing.T) {
	got := parseStringMap("0x01=PoolCreated, bad, =x, 0x02 = FeeToSet")
	require.Equal(t, map[string]string{"0x01": "PoolCreated", "0x02": "FeeToSet"}, got)
	require.Empty(t, parseStringMap("  "))
}

func TestLoadQuote(t *testing.T) {
	flags := pflag.NewFlagSet("quote", pflag.ContinueOnError)
	flags.String("curve", "default", "")
	flags.String("start-price", "", "")
	flags.Uint8("base-decimals", 18, "")
	flags.Bool("referred", false, "")
	require.NoError(t, flags.Parse([]string{"--curve=linear", "--start-price=100", "--base-decimals=6", "--referred"}))

	cfg, err := LoadQuote("", flags)
	require.NoError(t, err)
	require.Equal(t, "linear", cfg.Curve)
	require.Equal(t, "100", cfg.StartPrice)
	require.Equal(t, uint8(6), cfg.BaseDecimals)
	require.Equal(t, uint8(18), cfg.SaleDecimals)
	require.Equal(t, "0", cfg.Sold)
	require.True(t, cfg.Referred)
}

func TestLoadSimulateAndAggregateDefaults(t *testing.T) {
	sim, err := LoadSimulate("", nil)
	require.NoError(t, err)
	require.Equal(t, "./data/sim_logs.jsonl", sim.Out)
	require.False(t, sim.Append)

	agg, err := LoadAggregate("", nil)
	require.NoError(t, err)
	require.Equal(t, "1h", agg.Window)
	require.Equal(t, 1000, agg.BatchSize)
	require.True(t, agg.Migrate)
}

func TestParseWindow(t *testing.T) {
	got, err := ParseWindow("5m")
	require.NoError(t, err)
	require.Equal(t, uint64(300), got)

	for _, bad := range []string{"", "abc", "-1m", "500ms"} {
		_, err := ParseWindow(bad)
		require.Error(t, err, bad)
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("1700000000")
	require.NoError(t, err)
	require.Equal(t, uint64(1700000000), got)

	got, err = ParseTimestamp("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	require.Equal(t, uint64(1700000000), got)

	got, err = ParseTimestamp("")
	require.NoError(t, err)
	require.Zero(t, got)

	_, err = ParseTimestamp("yesterday")
	require.Error(t, err)
}
