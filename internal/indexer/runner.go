package indexer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"idoScope/internal/metrics"
	"idoScope/internal/model"
	"idoScope/internal/storage"
)

// Source is the chain access the runner needs. *chain.Client satisfies it.
type Source interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// RunConfig holds runtime settings for the indexer.
type RunConfig struct {
	FromBlock uint64
	// ToBlock of zero follows the chain head minus Confirmations.
	ToBlock           uint64
	Confirmations     uint64
	Addresses         []common.Address
	Topic0            []common.Hash
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
}

// Runner streams IDO contract logs from the chain into storage.
type Runner struct {
	cfg        RunConfig
	source     Source
	storage    storage.Storage
	logger     *zap.Logger
	metrics    *metrics.Indexer
	seen       map[string]struct{}
	checkpoint *CheckpointStore
}

// NewRunner builds a Runner. m may be nil.
func NewRunner(cfg RunConfig, source Source, storageSink storage.Storage, m *metrics.Indexer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		source:     source,
		storage:    storageSink,
		logger:     logger,
		metrics:    m,
		seen:       make(map[string]struct{}),
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled, cfg.Addresses),
	}
}

// Run executes the indexing loop over the configured range.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("chain source is nil")
	}
	if r.storage == nil {
		return fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.cfg.Addresses) == 0 {
		return fmt.Errorf("at least one address is required")
	}

	chainID, err := r.source.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	chainIDValue := chainID.Uint64()

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.latestWithRetry(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		if latest < r.cfg.Confirmations {
			r.logger.Info("chain shorter than confirmation depth", zap.Uint64("latest", latest))
			return nil
		}
		to = latest - r.cfg.Confirmations
	}

	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return err
	}
	if ok && cp.LastProcessedBlock >= from {
		from = cp.LastProcessedBlock + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
	} else if !ok && cp.LastProcessedBlock > 0 {
		r.logger.Warn("checkpoint belongs to another contract set, ignoring", zap.Strings("contracts", cp.Contracts))
	}

	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.logger.Debug("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

		logs, err := r.filterLogsWithRetry(ctx, blockRange)
		if err != nil {
			return fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}

		ingestedAt := time.Now().UTC()
		records := make([]model.LogRecord, 0, len(logs))
		for _, log := range logs {
			if log.Removed || r.isDuplicate(log) {
				continue
			}

			ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
			if err != nil {
				return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
			}
			records = append(records, model.NewLogRecord(chainIDValue, log, ts, ingestedAt))
		}

		if err := r.storage.PutLogBatch(records); err != nil {
			return fmt.Errorf("store logs: %w", err)
		}
		if err := r.checkpoint.Save(blockRange.To); err != nil {
			return err
		}

		if r.metrics != nil {
			r.metrics.Batches.Inc()
			r.metrics.Logs.Add(float64(len(records)))
			r.metrics.LastBlock.Set(float64(blockRange.To))
		}
		r.logger.Info("batch complete",
			zap.Int("logs", len(records)),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)
	}

	return nil
}

func (r *Runner) retry(op string) retryPolicy {
	return retryPolicy{
		maxRetries: r.cfg.MaxRetries,
		baseDelay:  r.cfg.RetryBackoff,
		onRetry: func(attempt int, err error) {
			if r.metrics != nil {
				r.metrics.Retries.WithLabelValues(op).Inc()
			}
			r.logger.Warn("rpc call failed, retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		},
	}
}

func (r *Runner) latestWithRetry(ctx context.Context) (uint64, error) {
	var latest uint64
	err := r.retry("block_number").do(ctx, func(ctx context.Context) error {
		var err error
		latest, err = r.source.LatestBlockNumber(ctx)
		return err
	})
	return latest, err
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, br BlockRange) ([]types.Log, error) {
	var logs []types.Log
	err := r.retry("filter_logs").do(ctx, func(ctx context.Context) error {
		var err error
		logs, err = r.source.FilterLogs(ctx, br.From, br.To, r.cfg.Addresses, r.cfg.Topic0)
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := r.retry("block_timestamp").do(ctx, func(ctx context.Context) error {
		var err error
		ts, err = r.source.BlockTimestamp(ctx, blockNumber)
		return err
	})
	return ts, err
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
