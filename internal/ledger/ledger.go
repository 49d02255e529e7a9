package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"idoScope/internal/ido"
	"idoScope/internal/metrics"
)

// Assets moves ERC-20 tokens and native currency on behalf of the ledger.
// RevertToSnapshot must undo every transfer since Snapshot, and
// DiscardSnapshot keeps them and releases the undo state. The ledger assumes
// it is the only writer while a purchase settles: a revert also undoes
// changes made by other callers in that window.
type Assets interface {
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error
	TransferNative(ctx context.Context, from, to common.Address, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int) error
	DiscardSnapshot(id int) error
}

// EventSink receives the logs of successful calls, in call order.
type EventSink interface {
	EmitLog(log types.Log)
}

// Tx carries what the VM would supply implicitly: caller, attached native
// value and block context.
type Tx struct {
	From        common.Address
	Value       *big.Int
	Timestamp   uint64
	BlockNumber uint64
	// Hash is derived from the caller and a call counter when left zero.
	Hash common.Hash
}

// Config holds ledger construction settings.
type Config struct {
	// Address is the ledger's own account. It holds native currency in transit
	// and doubles as the native-currency base token sentinel.
	Address common.Address
	// Minter is the deploying account, the only one allowed to set feeTo.
	Minter  common.Address
	Metrics *metrics.Ledger
}

// Purchase is the outcome of a successful purchase.
type Purchase struct {
	PoolID     uint64
	Buyer      common.Address
	Referrer   common.Address
	BaseAmount *big.Int
	SaleAmount *big.Int
	Split
}

// Quote is a read-only purchase preview.
type Quote struct {
	SaleAmount *big.Int
	Split
}

type callKey struct{}

// Ledger is the sale pool ledger. Calls are serialized and all-or-nothing.
type Ledger struct {
	cfg     Config
	assets  Assets
	sink    EventSink
	logger  *zap.Logger
	encoder *ido.Encoder

	mu        sync.RWMutex
	pools     []*Pool
	referrals map[common.Address]common.Address
	feeTo     common.Address
	nonce     uint64
	logIndex  uint
	settling  atomic.Bool
}

func New(cfg Config, assets Assets, sink EventSink, logger *zap.Logger) (*Ledger, error) {
	if assets == nil {
		return nil, fmt.Errorf("assets is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	encoder, err := ido.NewEncoder()
	if err != nil {
		return nil, err
	}
	return &Ledger{
		cfg:       cfg,
		assets:    assets,
		sink:      sink,
		logger:    logger,
		encoder:   encoder,
		referrals: make(map[common.Address]common.Address),
	}, nil
}

// Address returns the ledger's own account.
func (l *Ledger) Address() common.Address {
	return l.cfg.Address
}

// IsNative reports whether token denotes the native currency.
func (l *Ledger) IsNative(token common.Address) bool {
	return token == l.cfg.Address || token == (common.Address{})
}

// CreatePool registers a pool owned by the caller and returns its id.
func (l *Ledger) CreatePool(ctx context.Context, tx Tx, params PoolParams) (uint64, error) {
	const method = "createPool"
	if _, err := l.enter(ctx, method); err != nil {
		return 0, err
	}
	if err := validatePoolParams(params, l.IsNative); err != nil {
		return 0, l.revert(method, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pool := &Pool{
		ID:             uint64(len(l.pools)),
		Name:           params.Name,
		Owner:          tx.From,
		SaleToken:      params.SaleToken,
		BaseToken:      params.BaseToken,
		Price:          copyInt(params.Price),
		LimitAmount:    copyInt(params.LimitAmount),
		OfferingAmount: copyInt(params.OfferingAmount),
		StartTime:      params.StartTime,
		EndTime:        params.EndTime,
		CurveType:      params.CurveType,
		Sold:           new(big.Int),
		Raised:         new(big.Int),
	}
	if params.CurveType == CurveLinear {
		pool.CurveParams = []*big.Int{copyInt(params.CurveParams[0]), copyInt(params.CurveParams[1])}
	}

	log, err := l.encoder.PoolCreated(l.cfg.Address, ido.PoolCreated{
		PoolID:         pool.ID,
		Owner:          pool.Owner,
		SaleToken:      pool.SaleToken,
		BaseToken:      pool.BaseToken,
		Price:          pool.Price,
		LimitAmount:    pool.LimitAmount,
		OfferingAmount: pool.OfferingAmount,
		StartTime:      pool.StartTime,
		EndTime:        pool.EndTime,
		CurveType:      uint8(pool.CurveType),
		Name:           pool.Name,
	})
	if err != nil {
		return 0, err
	}

	l.pools = append(l.pools, pool)
	l.emit(tx, log)

	l.logger.Debug("pool created",
		zap.Uint64("pool", pool.ID),
		zap.String("name", pool.Name),
		zap.String("owner", pool.Owner.Hex()),
		zap.Stringer("curve", pool.CurveType),
	)
	return pool.ID, nil
}

// SetReferralAddress records referrer for the caller, replacing any previous
// one. The zero address clears it.
func (l *Ledger) SetReferralAddress(ctx context.Context, tx Tx, referrer common.Address) error {
	const method = "setReferralAddress"
	if _, err := l.enter(ctx, method); err != nil {
		return err
	}
	if referrer == tx.From {
		return l.revert(method, fmt.Errorf("%w: self referral", ErrInvalidReferrer))
	}

	log, err := l.encoder.ReferralSet(l.cfg.Address, tx.From, referrer)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if referrer == (common.Address{}) {
		delete(l.referrals, tx.From)
	} else {
		l.referrals[tx.From] = referrer
	}
	l.emit(tx, log)
	return nil
}

// SetFeeTo sets the platform fee recipient. Only the minter may call it.
func (l *Ledger) SetFeeTo(ctx context.Context, tx Tx, feeTo common.Address) error {
	const method = "setFeeTo"
	if _, err := l.enter(ctx, method); err != nil {
		return err
	}
	if tx.From != l.cfg.Minter {
		return l.revert(method, ErrUnauthorized)
	}
	if feeTo == (common.Address{}) {
		return l.revert(method, ErrZeroAddress)
	}

	log, err := l.encoder.FeeToSet(l.cfg.Address, feeTo)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeTo = feeTo
	l.emit(tx, log)
	return nil
}

// PurchaseSaleToken buys from an ERC-20 priced pool, paying baseAmountIn.
func (l *Ledger) PurchaseSaleToken(ctx context.Context, tx Tx, poolID uint64, baseAmountIn *big.Int) (Purchase, error) {
	const method = "purchaseSaleToken"
	if tx.Value != nil && tx.Value.Sign() != 0 {
		return Purchase{}, l.revert(method, fmt.Errorf("%w: native value sent to ERC-20 purchase", ErrWrongAsset))
	}
	return l.purchase(ctx, method, tx, poolID, baseAmountIn, false)
}

// PurchaseSaleTokenWithEth buys from a native-currency pool, paying tx.Value.
func (l *Ledger) PurchaseSaleTokenWithEth(ctx context.Context, tx Tx, poolID uint64) (Purchase, error) {
	return l.purchase(ctx, "purchaseSaleTokenWithEth", tx, poolID, tx.Value, true)
}

func (l *Ledger) purchase(ctx context.Context, method string, tx Tx, poolID uint64, baseIn *big.Int, native bool) (Purchase, error) {
	ctx, err := l.enter(ctx, method)
	if err != nil {
		return Purchase{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pool, err := l.poolLocked(poolID)
	if err != nil {
		return Purchase{}, l.revert(method, err)
	}
	if l.IsNative(pool.BaseToken) != native {
		return Purchase{}, l.revert(method, ErrWrongAsset)
	}
	if !pool.Open(tx.Timestamp) {
		return Purchase{}, l.revert(method, ErrOutsideSaleWindow)
	}
	if l.feeTo == (common.Address{}) {
		return Purchase{}, l.revert(method, ErrFeeToNotSet)
	}

	referrer, referred := l.referrals[tx.From]
	q, err := quote(pool, baseIn, referred)
	if err != nil {
		return Purchase{}, l.revert(method, err)
	}

	result := Purchase{
		PoolID:     pool.ID,
		Buyer:      tx.From,
		Referrer:   referrer,
		BaseAmount: new(big.Int).Set(baseIn),
		SaleAmount: q.SaleAmount,
		Split:      q.Split,
	}
	log, err := l.encoder.Purchased(l.cfg.Address, ido.Purchased{
		PoolID:      result.PoolID,
		Buyer:       result.Buyer,
		Referrer:    result.Referrer,
		BaseAmount:  result.BaseAmount,
		SaleAmount:  result.SaleAmount,
		Fee:         result.Fee,
		ReferralFee: result.Referral,
	})
	if err != nil {
		return Purchase{}, err
	}

	// Counters move before any transfer so a re-entered call sees them.
	snap := l.assets.Snapshot()
	prevSold, prevRaised := pool.Sold, pool.Raised
	pool.Sold = new(big.Int).Add(pool.Sold, result.SaleAmount)
	pool.Raised = new(big.Int).Add(pool.Raised, result.BaseAmount)

	l.settling.Store(true)
	err = l.settle(ctx, tx, pool, result, native)
	l.settling.Store(false)
	if err != nil {
		pool.Sold, pool.Raised = prevSold, prevRaised
		if revertErr := l.assets.RevertToSnapshot(snap); revertErr != nil {
			l.logger.Error("asset revert failed", zap.Error(revertErr), zap.Int("snapshot", snap))
			return Purchase{}, errors.Join(err, revertErr)
		}
		return Purchase{}, l.revert(method, err)
	}
	if err := l.assets.DiscardSnapshot(snap); err != nil {
		l.logger.Warn("asset snapshot release failed", zap.Error(err), zap.Int("snapshot", snap))
	}

	l.emit(tx, log)

	asset := "erc20"
	if native {
		asset = "native"
	}
	if m := l.cfg.Metrics; m != nil {
		m.Calls.WithLabelValues(method).Inc()
		m.Purchases.WithLabelValues(pool.CurveType.String(), asset).Inc()
		whole, _ := new(big.Float).Quo(new(big.Float).SetInt(result.SaleAmount), new(big.Float).SetInt(priceScale)).Float64()
		m.SaleVolume.WithLabelValues(pool.CurveType.String()).Add(whole)
	}
	l.logger.Debug("purchase",
		zap.Uint64("pool", pool.ID),
		zap.String("buyer", tx.From.Hex()),
		zap.String("asset", asset),
		zap.Stringer("base_amount", result.BaseAmount),
		zap.Stringer("sale_amount", result.SaleAmount),
		zap.Stringer("sold", pool.Sold),
	)
	return result, nil
}

// settle moves the sale token to the buyer and routes the payment.
func (l *Ledger) settle(ctx context.Context, tx Tx, pool *Pool, p Purchase, native bool) error {
	self := l.cfg.Address
	if err := l.assets.TransferFrom(ctx, pool.SaleToken, self, pool.Owner, tx.From, p.SaleAmount); err != nil {
		return fmt.Errorf("transfer sale token: %w", err)
	}

	if native {
		if err := l.assets.TransferNative(ctx, tx.From, self, p.BaseAmount); err != nil {
			return fmt.Errorf("receive payment: %w", err)
		}
	}
	pay := func(to common.Address, amount *big.Int) error {
		if amount.Sign() == 0 {
			return nil
		}
		if native {
			return l.assets.TransferNative(ctx, self, to, amount)
		}
		return l.assets.TransferFrom(ctx, pool.BaseToken, self, tx.From, to, amount)
	}

	if err := pay(l.feeTo, p.Fee); err != nil {
		return fmt.Errorf("pay fee: %w", err)
	}
	if err := pay(p.Referrer, p.Referral); err != nil {
		return fmt.Errorf("pay referrer: %w", err)
	}
	if err := pay(pool.Owner, p.Owner); err != nil {
		return fmt.Errorf("pay owner: %w", err)
	}
	return nil
}

// Quote previews a purchase by buyer without side effects. The sale window
// and fee recipient are not checked.
func (l *Ledger) Quote(poolID uint64, buyer common.Address, baseAmountIn *big.Int) (Quote, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pool, err := l.poolLocked(poolID)
	if err != nil {
		return Quote{}, err
	}
	_, referred := l.referrals[buyer]
	return quote(pool, baseAmountIn, referred)
}

// QuotePool previews a purchase against a standalone pool value, for pools
// that do not live in a ledger. A nil Sold counts as nothing sold.
func QuotePool(pool Pool, baseAmountIn *big.Int, referred bool) (Quote, error) {
	params := PoolParams{
		SaleToken:      pool.SaleToken,
		BaseToken:      pool.BaseToken,
		Price:          pool.Price,
		LimitAmount:    pool.LimitAmount,
		OfferingAmount: pool.OfferingAmount,
		StartTime:      pool.StartTime,
		EndTime:        pool.EndTime,
		CurveType:      pool.CurveType,
		CurveParams:    pool.CurveParams,
	}
	if err := validatePoolParams(params, func(common.Address) bool { return false }); err != nil {
		return Quote{}, err
	}
	p := pool.clone()
	if p.Sold.Cmp(p.OfferingAmount) > 0 {
		return Quote{}, fmt.Errorf("%w: sold %s above offering %s", ErrInvalidPool, p.Sold, p.OfferingAmount)
	}
	return quote(&p, baseAmountIn, referred)
}

func quote(pool *Pool, baseIn *big.Int, referred bool) (Quote, error) {
	if baseIn == nil || baseIn.Sign() <= 0 {
		return Quote{}, ErrZeroAmount
	}
	curve, ok := curveFor(pool.CurveType)
	if !ok {
		return Quote{}, fmt.Errorf("%w: unknown curve type %d", ErrInvalidPool, pool.CurveType)
	}
	out, err := curve.SaleAmount(pool, baseIn)
	if err != nil {
		return Quote{}, err
	}
	if out.Sign() == 0 {
		return Quote{}, ErrZeroAmount
	}
	return Quote{SaleAmount: out, Split: SplitPayment(baseIn, referred)}, nil
}

// PoolLength returns the number of pools.
func (l *Ledger) PoolLength() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.pools))
}

// PoolInfo returns a copy of pool poolID.
func (l *Ledger) PoolInfo(poolID uint64) (Pool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pool, err := l.poolLocked(poolID)
	if err != nil {
		return Pool{}, err
	}
	return pool.clone(), nil
}

// Pools returns copies of every pool in creation order.
func (l *Ledger) Pools() []Pool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Pool, 0, len(l.pools))
	for _, pool := range l.pools {
		out = append(out, pool.clone())
	}
	return out
}

// ReferralInfo returns the referrer of user, or the zero address.
func (l *Ledger) ReferralInfo(user common.Address) common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.referrals[user]
}

// FeeTo returns the fee recipient, or the zero address when unset.
func (l *Ledger) FeeTo() common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.feeTo
}

func (l *Ledger) poolLocked(poolID uint64) (*Pool, error) {
	if poolID >= uint64(len(l.pools)) {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, poolID)
	}
	return l.pools[poolID], nil
}

// enter rejects calls made from inside another ledger call, such as a
// recipient hook firing during a native transfer. A hook that drops the call
// context is still caught by the settling flag, so while a purchase settles
// every other mutating call fails instead of waiting. Views must not be
// called from a hook; they would block on the held lock.
func (l *Ledger) enter(ctx context.Context, method string) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, ok := ctx.Value(callKey{}).(*Ledger); ok && owner == l {
		return nil, l.revert(method, ErrReentrantCall)
	}
	if l.settling.Load() {
		return nil, l.revert(method, ErrReentrantCall)
	}
	return context.WithValue(ctx, callKey{}, l), nil
}

func (l *Ledger) emit(tx Tx, log types.Log) {
	hash := tx.Hash
	if hash == (common.Hash{}) {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], l.nonce)
		hash = crypto.Keccak256Hash(l.cfg.Address.Bytes(), tx.From.Bytes(), buf[:])
	}
	l.nonce++

	log.BlockNumber = tx.BlockNumber
	log.TxHash = hash
	log.Index = l.logIndex
	l.logIndex++

	if l.sink != nil {
		l.sink.EmitLog(log)
	}
}

func (l *Ledger) revert(method string, err error) error {
	if m := l.cfg.Metrics; m != nil {
		m.Calls.WithLabelValues(method).Inc()
		m.Reverts.WithLabelValues(method, reasonLabel(err)).Inc()
	}
	l.logger.Debug("call reverted", zap.String("method", method), zap.Error(err))
	return err
}

func reasonLabel(err error) string {
	reasons := []struct {
		target error
		label  string
	}{
		{ErrExceedLimit, "exceed_limit"},
		{ErrExceedOffering, "exceed_offering"},
		{ErrOutsideSaleWindow, "outside_window"},
		{ErrWrongAsset, "wrong_asset"},
		{ErrUnauthorized, "unauthorized"},
		{ErrPoolNotFound, "pool_not_found"},
		{ErrInvalidPool, "invalid_pool"},
		{ErrZeroAmount, "zero_amount"},
		{ErrFeeToNotSet, "fee_to_not_set"},
		{ErrInvalidReferrer, "invalid_referrer"},
		{ErrZeroAddress, "zero_address"},
		{ErrReentrantCall, "reentrant"},
	}
	for _, r := range reasons {
		if errors.Is(err, r.target) {
			return r.label
		}
	}
	return "transfer"
}
