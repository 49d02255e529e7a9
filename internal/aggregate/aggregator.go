package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"idoScope/internal/ido"
	"idoScope/internal/model"
	"idoScope/internal/storage"
	"idoScope/internal/token"
)

// MetricsStore receives pool records and window metrics. *postgres.Store
// satisfies it.
type MetricsStore interface {
	UpsertSalePools(ctx context.Context, pools []model.SalePool) error
	UpsertSaleWindowMetrics(ctx context.Context, metrics []model.SaleWindowMetrics) error
}

// DecimalsSource resolves ERC-20 decimals. *token.Resolver satisfies it.
type DecimalsSource interface {
	Decimals(ctx context.Context, token common.Address) uint8
}

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	StateStore    StateStore
}

// Summary counts what a run saw.
type Summary struct {
	Total     int
	Purchases int
	Pools     int
	Windows   int
	Skipped   int
	Failed    int
}

type poolState struct {
	record    model.SalePool
	saleToken common.Address
	baseToken common.Address
	known     bool
	sold      *big.Int
}

// Aggregator folds typed IDO events into per-pool window metrics.
type Aggregator struct {
	cfg          Config
	store        MetricsStore
	decimals     DecimalsSource
	logger       *zap.Logger
	accumulators map[string]*Accumulator
	pools        map[string]*poolState
	safeTs       uint64
}

// NewAggregator builds an Aggregator. decimals may be nil, in which case every
// token is treated as having token.DefaultDecimals.
func NewAggregator(cfg Config, store MetricsStore, decimals DecimalsSource, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		cfg:          cfg,
		store:        store,
		decimals:     decimals,
		logger:       logger,
		accumulators: make(map[string]*Accumulator),
		pools:        make(map[string]*poolState),
	}
}

// Run aggregates a typed events JSONL file.
func (a *Aggregator) Run(ctx context.Context, inputPath string) (Summary, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return Summary{}, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()
	return a.Process(ctx, file)
}

// Process aggregates typed event records read from r, which must be ordered by
// timestamp. Pool creations are always registered; purchases at or before the
// resume timestamp only advance the cumulative sold counter.
func (a *Aggregator) Process(ctx context.Context, r io.Reader) (Summary, error) {
	var sum Summary
	if a.store == nil {
		return sum, fmt.Errorf("store is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return sum, fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return sum, err
	}
	a.safeTs = startTs

	batch := make([]model.SaleWindowMetrics, 0, a.cfg.BatchSize)
	pools := make([]model.SalePool, 0, 16)
	maxTs := startTs

	err = storage.ScanJSONL(r, func(line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum.Total++

		var record model.TypedEventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			sum.Failed++
			a.logger.Warn("decode typed event", zap.Error(err))
			return nil
		}

		switch record.EventName {
		case ido.EventPoolCreated:
			created, err := decodePoolCreated(record)
			if err != nil {
				sum.Failed++
				a.logger.Warn("aggregate pool", zap.Error(err), zap.String("tx", record.TxHash))
				return nil
			}
			pools = append(pools, a.registerPool(record, created))
			sum.Pools++
			return nil
		case ido.EventPurchased:
		default:
			sum.Skipped++
			return nil
		}

		purchase, err := decodePurchase(record)
		if err != nil {
			sum.Failed++
			a.logger.Warn("aggregate purchase", zap.Error(err), zap.String("tx", record.TxHash))
			return nil
		}
		sold, err := parseBigInt(purchase.SaleAmount)
		if err != nil {
			sum.Failed++
			a.logger.Warn("aggregate purchase", zap.Error(err), zap.String("tx", record.TxHash))
			return nil
		}

		key := poolKey(record.ChainID, record.Address, purchase.PoolID)
		state := a.pool(key, record, purchase.PoolID)
		if record.Timestamp <= startTs {
			state.sold.Add(state.sold, sold)
			sum.Skipped++
			return nil
		}

		start := windowStart(record.Timestamp, a.cfg.WindowSeconds)
		acc := a.accumulators[key]
		if acc != nil && acc.WindowStart != start {
			batch = append(batch, a.flushAccumulator(ctx, acc))
			acc = nil
		}
		if acc == nil {
			acc = NewAccumulator(record.ChainID, record.Address, purchase.PoolID, start, start+a.cfg.WindowSeconds)
			a.accumulators[key] = acc
		}

		if err := acc.AddPurchase(record, purchase); err != nil {
			sum.Failed++
			a.logger.Warn("aggregate purchase", zap.Error(err), zap.String("tx", record.TxHash))
			return nil
		}
		state.sold.Add(state.sold, sold)
		sum.Purchases++
		if record.Timestamp > maxTs {
			maxTs = record.Timestamp
		}

		if len(batch) >= a.cfg.BatchSize {
			sum.Windows += len(batch)
			if err := a.flushBatches(ctx, batch, pools); err != nil {
				return err
			}
			batch = batch[:0]
			pools = pools[:0]
			return a.saveState(ctx, maxTs)
		}
		return nil
	})
	if err != nil {
		return sum, err
	}

	// Trailing windows are written but stay open for the next run.
	for _, acc := range sortedAccumulators(a.accumulators) {
		batch = append(batch, a.flushAccumulator(ctx, acc))
	}
	sum.Windows += len(batch)
	if err := a.flushBatches(ctx, batch, pools); err != nil {
		return sum, err
	}
	if err := a.saveState(ctx, maxTs); err != nil {
		return sum, err
	}
	a.accumulators = make(map[string]*Accumulator)

	a.logger.Info("aggregate complete",
		zap.Int("total", sum.Total),
		zap.Int("purchases", sum.Purchases),
		zap.Int("pools", sum.Pools),
		zap.Int("windows", sum.Windows),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

// saveState records the last timestamp whose windows are all closed. Open
// windows are recomputed on the next run.
func (a *Aggregator) saveState(ctx context.Context, maxTs uint64) error {
	if a.cfg.StateStore == nil {
		return nil
	}

	safeTs := maxTs
	if open, ok := minOpenWindowStart(a.accumulators); ok && open > 0 {
		safeTs = open - 1
	}
	if safeTs < a.safeTs {
		safeTs = a.safeTs
	}
	a.safeTs = safeTs
	return a.cfg.StateStore.Save(ctx, safeTs)
}

func (a *Aggregator) flushBatches(ctx context.Context, batch []model.SaleWindowMetrics, pools []model.SalePool) error {
	if len(pools) > 0 {
		if err := a.store.UpsertSalePools(ctx, pools); err != nil {
			return fmt.Errorf("upsert pools: %w", err)
		}
	}
	if len(batch) > 0 {
		if err := a.store.UpsertSaleWindowMetrics(ctx, batch); err != nil {
			return fmt.Errorf("upsert window metrics: %w", err)
		}
	}
	return nil
}

func (a *Aggregator) registerPool(record model.TypedEventRecord, created model.PoolCreatedEventData) model.SalePool {
	pool := model.SalePool{
		ChainID:        record.ChainID,
		Contract:       record.Address,
		PoolID:         created.PoolID,
		Name:           created.Name,
		Owner:          created.Owner,
		SaleToken:      created.SaleToken,
		BaseToken:      created.BaseToken,
		CurveType:      created.CurveType,
		OfferingAmount: created.OfferingAmount,
		StartTime:      created.StartTime,
		EndTime:        created.EndTime,
		CreatedBlock:   record.BlockNumber,
	}

	state := a.pool(poolKey(record.ChainID, record.Address, created.PoolID), record, created.PoolID)
	state.record = pool
	state.saleToken = common.HexToAddress(created.SaleToken)
	state.baseToken = common.HexToAddress(created.BaseToken)
	state.known = true
	return pool
}

func (a *Aggregator) pool(key string, record model.TypedEventRecord, poolID uint64) *poolState {
	if state, ok := a.pools[key]; ok {
		return state
	}
	state := &poolState{
		record: model.SalePool{ChainID: record.ChainID, Contract: record.Address, PoolID: poolID},
		sold:   new(big.Int),
	}
	a.pools[key] = state
	return state
}

func (a *Aggregator) flushAccumulator(ctx context.Context, acc *Accumulator) model.SaleWindowMetrics {
	state := a.pools[poolKey(acc.ChainID, acc.Contract, acc.PoolID)]

	saleDecimals, baseDecimals := token.DefaultDecimals, token.DefaultDecimals
	cumulative := new(big.Int)
	if state != nil {
		cumulative.Set(state.sold)
		if state.known {
			saleDecimals = a.tokenDecimals(ctx, state.saleToken, acc.Contract)
			baseDecimals = a.tokenDecimals(ctx, state.baseToken, acc.Contract)
		} else {
			a.logger.Warn("purchase for unseen pool, assuming default decimals",
				zap.String("contract", acc.Contract),
				zap.Uint64("pool", acc.PoolID),
			)
		}
	}

	return model.SaleWindowMetrics{
		ChainID:        acc.ChainID,
		Contract:       acc.Contract,
		PoolID:         acc.PoolID,
		WindowSizeSecs: int64(a.cfg.WindowSeconds),
		WindowStart:    time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(acc.WindowEnd), 0).UTC(),
		PurchaseCount:  acc.PurchaseCount,
		UniqueBuyers:   acc.UniqueBuyers(),
		BaseRaised:     token.FormatAmount(acc.BaseRaised, baseDecimals),
		SaleSold:       token.FormatAmount(acc.SaleSold, saleDecimals),
		Fees:           token.FormatAmount(acc.Fees, baseDecimals),
		ReferralFees:   token.FormatAmount(acc.ReferralFees, baseDecimals),
		AvgPrice:       averagePrice(acc.BaseRaised, baseDecimals, acc.SaleSold, saleDecimals),
		SoldCumulative: token.FormatAmount(cumulative, saleDecimals),
	}
}

// tokenDecimals treats the sale contract itself and the zero address as the
// native currency.
func (a *Aggregator) tokenDecimals(ctx context.Context, addr common.Address, contract string) uint8 {
	if addr == (common.Address{}) || strings.EqualFold(addr.Hex(), contract) {
		return 18
	}
	if a.decimals == nil {
		return token.DefaultDecimals
	}
	return a.decimals.Decimals(ctx, addr)
}

func poolKey(chainID uint64, contract string, poolID uint64) string {
	return fmt.Sprintf("%d:%s:%d", chainID, strings.ToLower(contract), poolID)
}

func sortedAccumulators(accs map[string]*Accumulator) []*Accumulator {
	out := make([]*Accumulator, 0, len(accs))
	for _, acc := range accs {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Contract != out[j].Contract {
			return out[i].Contract < out[j].Contract
		}
		return out[i].PoolID < out[j].PoolID
	})
	return out
}

func minOpenWindowStart(acc map[string]*Accumulator) (uint64, bool) {
	var (
		min   uint64
		found bool
	)
	for _, entry := range acc {
		if entry == nil {
			continue
		}
		if !found || entry.WindowStart < min {
			min = entry.WindowStart
			found = true
		}
	}
	return min, found
}
