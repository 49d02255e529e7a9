package indexer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"idoScope/internal/metrics"
	"idoScope/internal/model"
)

var contract = common.HexToAddress("0x00000000000000000000000000000000000001d0")

type fakeSource struct {
	latest       uint64
	logs         []types.Log
	filterFails  int
	filterCalls  [][2]uint64
	timestampErr error
}

func (s *fakeSource) GetChainID(context.Context) (*big.Int, error) {
	return big.NewInt(56), nil
}

func (s *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	return s.latest, nil
}

func (s *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	if s.timestampErr != nil {
		return 0, s.timestampErr
	}
	return 1_700_000_000 + number*3, nil
}

func (s *fakeSource) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	if s.filterFails > 0 {
		s.filterFails--
		return nil, errors.New("rpc unavailable")
	}
	s.filterCalls = append(s.filterCalls, [2]uint64{from, to})
	var out []types.Log
	for _, log := range s.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to {
			out = append(out, log)
		}
	}
	return out, nil
}

type memStorage struct {
	records []model.LogRecord
}

func (m *memStorage) PutLogBatch(logs []model.LogRecord) error {
	m.records = append(m.records, logs...)
	return nil
}

func testLog(block uint64, index uint, removed bool) types.Log {
	return types.Log{
		Address:     contract,
		Topics:      []common.Hash{common.HexToHash("0x01")},
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       index,
		Removed:     removed,
	}
}

func TestRunnerWritesBatchesAndCheckpoints(t *testing.T) {
	source := &fakeSource{
		latest: 20,
		logs: []types.Log{
			testLog(10, 0, false),
			testLog(10, 0, false), // duplicate
			testLog(11, 1, true),
			testLog(13, 2, false),
		},
	}
	store := &memStorage{}
	m := metrics.NewIndexer(prometheus.NewRegistry())
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")

	cfg := RunConfig{
		FromBlock:         10,
		Confirmations:     5,
		Addresses:         []common.Address{contract},
		BatchSize:         3,
		CheckpointPath:    cpPath,
		CheckpointEnabled: true,
	}
	require.NoError(t, NewRunner(cfg, source, store, m, nil).Run(context.Background()))

	require.Equal(t, [][2]uint64{{10, 12}, {13, 15}}, source.filterCalls)
	require.Len(t, store.records, 2)
	require.Equal(t, uint64(56), store.records[0].ChainID)
	require.Equal(t, uint64(1_700_000_030), store.records[0].Timestamp)
	require.Equal(t, uint64(13), store.records[1].BlockNumber)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Batches))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Logs))
	require.Equal(t, 15.0, testutil.ToFloat64(m.LastBlock))

	cp, ok, err := NewCheckpointStore(cpPath, true, []common.Address{contract}).Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(15), cp.LastProcessedBlock)

	// A second run resumes after the checkpoint and finds nothing new.
	source.filterCalls = nil
	require.NoError(t, NewRunner(cfg, source, store, nil, nil).Run(context.Background()))
	require.Empty(t, source.filterCalls)
}

func TestRunnerRetriesFilterLogs(t *testing.T) {
	source := &fakeSource{filterFails: 2, logs: []types.Log{testLog(5, 0, false)}}
	store := &memStorage{}
	m := metrics.NewIndexer(prometheus.NewRegistry())

	cfg := RunConfig{
		FromBlock:    5,
		ToBlock:      5,
		Addresses:    []common.Address{contract},
		BatchSize:    10,
		MaxRetries:   3,
		RetryBackoff: 1,
	}
	require.NoError(t, NewRunner(cfg, source, store, m, nil).Run(context.Background()))
	require.Len(t, store.records, 1)
	require.Equal(t, 2.0, testutil.ToFloat64(m.Retries.WithLabelValues("filter_logs")))
}

func TestRunnerGivesUpAfterRetries(t *testing.T) {
	source := &fakeSource{filterFails: 5}
	cfg := RunConfig{
		FromBlock:    1,
		ToBlock:      2,
		Addresses:    []common.Address{contract},
		BatchSize:    10,
		MaxRetries:   1,
		RetryBackoff: 1,
	}
	err := NewRunner(cfg, source, &memStorage{}, nil, nil).Run(context.Background())
	require.ErrorContains(t, err, "rpc unavailable")
}

func TestRunnerValidatesConfig(t *testing.T) {
	source := &fakeSource{}
	cases := map[string]RunConfig{
		"zero batch":   {Addresses: []common.Address{contract}},
		"no addresses": {BatchSize: 1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, NewRunner(cfg, source, &memStorage{}, nil, nil).Run(context.Background()))
		})
	}

	require.Error(t, NewRunner(RunConfig{BatchSize: 1}, nil, &memStorage{}, nil, nil).Run(context.Background()))
}

func TestRunnerShortChain(t *testing.T) {
	source := &fakeSource{latest: 3}
	cfg := RunConfig{Addresses: []common.Address{contract}, BatchSize: 10, Confirmations: 12}
	require.NoError(t, NewRunner(cfg, source, &memStorage{}, nil, nil).Run(context.Background()))
	require.Empty(t, source.filterCalls)
}
