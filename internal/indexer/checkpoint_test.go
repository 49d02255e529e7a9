package indexer

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestCheckpointContractSetMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp", "checkpoint.json")
	a := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	b := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	require.NoError(t, NewCheckpointStore(path, true, []common.Address{b, a}).Save(42))

	cp, ok, err := NewCheckpointStore(path, true, []common.Address{a, b}).Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), cp.LastProcessedBlock)

	cp, ok, err = NewCheckpointStore(path, true, []common.Address{a}).Load()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, uint64(42), cp.LastProcessedBlock)
}

func TestCheckpointDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(path, false, nil)
	require.NoError(t, store.Save(7))

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)
	require.NoFileExists(t, path)
}

func TestParseTopic0(t *testing.T) {
	all, err := ParseTopic0(nil)
	require.NoError(t, err)
	require.Len(t, all, 4)

	named, err := ParseTopic0([]string{"SaleTokenPurchased", " "})
	require.NoError(t, err)
	require.Len(t, named, 1)

	raw, err := ParseTopic0([]string{named[0].Hex()})
	require.NoError(t, err)
	require.Equal(t, named, raw)

	_, err = ParseTopic0([]string{"0x1234"})
	require.Error(t, err)
	_, err = ParseTopic0([]string{"NotAnEvent"})
	require.Error(t, err)
}

func TestParseAddressesDedup(t *testing.T) {
	got, err := ParseAddresses([]string{
		"0x00000000000000000000000000000000000000aa",
		"0x00000000000000000000000000000000000000AA",
		"",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = ParseAddresses([]string{"nope"})
	require.Error(t, err)
}
