package scenario

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"idoScope/internal/ledger"
	"idoScope/internal/metrics"
	"idoScope/internal/model"
	"idoScope/internal/token"
)

const nativeDecimals = 18

// ErrExpectation marks a step or check whose outcome differs from the script.
var ErrExpectation = errors.New("scenario expectation not met")

// Report is the outcome of a scenario run.
type Report struct {
	RunID    string
	Name     string
	Contract common.Address
	Steps    []StepResult
	Pools    []ledger.Pool
	Balances []Balance
	Logs     []model.LogRecord
}

type StepResult struct {
	Index      int
	Action     string
	From       string
	Timestamp  uint64
	Err        error
	BaseAmount string
	SaleAmount string
	Failure    string
}

// Balance is a formatted end-of-run holding.
type Balance struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type Runner struct {
	logger  *zap.Logger
	metrics *metrics.Ledger
	now     func() time.Time
}

func NewRunner(logger *zap.Logger, m *metrics.Ledger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger, metrics: m, now: time.Now}
}

// recorder collects ledger logs as simulated raw log records.
type recorder struct {
	chainID  uint64
	contract common.Address
	clock    *uint64
	now      func() time.Time
	records  []model.LogRecord
}

func (r *recorder) EmitLog(log types.Log) {
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], log.BlockNumber)
	log.BlockHash = crypto.Keccak256Hash(r.contract.Bytes(), num[:])

	rec := model.NewLogRecord(r.chainID, log, *r.clock, r.now())
	rec.Simulated = true
	r.records = append(r.records, rec)
}

type run struct {
	sc       *Scenario
	logger   *zap.Logger
	bank     *token.Bank
	ledger   *ledger.Ledger
	contract common.Address
	decimals map[common.Address]uint8
	clock    uint64
	block    uint64
}

// Run executes sc against a fresh ledger and bank. Steps keep running after an
// unmet expectation; the returned error joins every failure.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", runID), zap.String("scenario", sc.Name))

	minter, err := sc.resolve(sc.Minter)
	if err != nil {
		return nil, fmt.Errorf("minter: %w", err)
	}
	contract := crypto.CreateAddress(minter, 0)
	if sc.Contract != "" {
		contract = common.HexToAddress(sc.Contract)
	}

	rn := &run{
		sc:       sc,
		logger:   logger,
		bank:     token.NewBank(),
		contract: contract,
		decimals: map[common.Address]uint8{contract: nativeDecimals, {}: nativeDecimals},
		clock:    sc.StartTime,
		block:    1,
	}
	rec := &recorder{chainID: sc.ChainID, contract: contract, clock: &rn.clock, now: r.now}

	rn.ledger, err = ledger.New(ledger.Config{Address: contract, Minter: minter, Metrics: r.metrics}, rn.bank, rec, logger)
	if err != nil {
		return nil, err
	}

	if err := rn.fund(); err != nil {
		return nil, err
	}
	if sc.FeeTo != "" {
		feeTo, err := sc.resolve(sc.FeeTo)
		if err != nil {
			return nil, fmt.Errorf("fee_to: %w", err)
		}
		if err := rn.ledger.SetFeeTo(ctx, rn.tx(minter, nil), feeTo); err != nil {
			return nil, fmt.Errorf("set fee_to: %w", err)
		}
		rn.advanceBlock()
	}
	for i, spec := range sc.Pools {
		if _, err := rn.createPool(ctx, spec); err != nil {
			return nil, fmt.Errorf("pool %d (%s): %w", i, spec.Name, err)
		}
		rn.advanceBlock()
	}

	report := &Report{RunID: runID, Name: sc.Name, Contract: contract}
	var failures []error
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := rn.step(ctx, i, step)
		report.Steps = append(report.Steps, res)
		if res.Failure != "" {
			failures = append(failures, fmt.Errorf("%w: step %d (%s): %s", ErrExpectation, i, step.Action, res.Failure))
			logger.Warn("step expectation failed", zap.Int("step", i), zap.String("action", step.Action), zap.String("failure", res.Failure))
		}
		rn.advanceBlock()
	}

	for _, check := range sc.Checks {
		if msg := rn.check(check); msg != "" {
			failures = append(failures, fmt.Errorf("%w: check %s %s: %s", ErrExpectation, check.Account, check.Token, msg))
		}
	}

	report.Pools = rn.ledger.Pools()
	report.Balances = rn.balances()
	report.Logs = rec.records

	logger.Info("scenario finished",
		zap.Int("steps", len(report.Steps)),
		zap.Int("pools", len(report.Pools)),
		zap.Int("logs", len(report.Logs)),
		zap.Int("failures", len(failures)),
	)
	return report, errors.Join(failures...)
}

func (rn *run) fund() error {
	for name, acct := range rn.sc.Accounts {
		if acct.Native == "" {
			continue
		}
		amount, err := token.ParseAmount(acct.Native, nativeDecimals)
		if err != nil {
			return fmt.Errorf("account %s native: %w", name, err)
		}
		rn.bank.SetNativeBalance(common.HexToAddress(acct.Address), amount)
	}

	for _, tok := range rn.sc.Tokens {
		addr := common.HexToAddress(tok.Address)
		rn.decimals[addr] = tok.Decimals
		for holder, raw := range tok.Balances {
			to, err := rn.sc.resolve(holder)
			if err != nil {
				return fmt.Errorf("token %s balance: %w", tok.Symbol, err)
			}
			amount, err := token.ParseAmount(raw, tok.Decimals)
			if err != nil {
				return fmt.Errorf("token %s balance of %s: %w", tok.Symbol, holder, err)
			}
			if err := rn.bank.Mint(addr, to, amount); err != nil {
				return err
			}
		}
		for owner, raw := range tok.Approvals {
			from, err := rn.sc.resolve(owner)
			if err != nil {
				return fmt.Errorf("token %s approval: %w", tok.Symbol, err)
			}
			amount, err := token.ParseAmount(raw, tok.Decimals)
			if err != nil {
				return fmt.Errorf("token %s approval of %s: %w", tok.Symbol, owner, err)
			}
			if err := rn.bank.Approve(addr, from, rn.contract, amount); err != nil {
				return err
			}
		}
	}
	return nil
}

func (rn *run) tx(from common.Address, value *big.Int) ledger.Tx {
	return ledger.Tx{From: from, Value: value, Timestamp: rn.clock, BlockNumber: rn.block}
}

func (rn *run) advanceBlock() {
	rn.block++
}

// tokenAddress maps a symbol to its address; "native" is the ledger itself.
func (rn *run) tokenAddress(symbol string) (common.Address, uint8, error) {
	if strings.EqualFold(symbol, Native) {
		return rn.contract, nativeDecimals, nil
	}
	tok, ok := rn.sc.token(symbol)
	if !ok {
		return common.Address{}, 0, fmt.Errorf("unknown token %q", symbol)
	}
	return common.HexToAddress(tok.Address), tok.Decimals, nil
}

func (rn *run) createPool(ctx context.Context, spec PoolSpec) (uint64, error) {
	owner, err := rn.sc.resolve(spec.Owner)
	if err != nil {
		return 0, fmt.Errorf("owner: %w", err)
	}
	sale, saleDecimals, err := rn.tokenAddress(spec.SaleToken)
	if err != nil {
		return 0, err
	}
	base, baseDecimals, err := rn.tokenAddress(spec.BaseToken)
	if err != nil {
		return 0, err
	}
	curve, err := ledger.ParseCurveType(spec.Curve)
	if err != nil {
		return 0, err
	}

	params := ledger.PoolParams{
		Name:      spec.Name,
		SaleToken: sale,
		BaseToken: base,
		CurveType: curve,
	}
	start := int64(rn.sc.StartTime) + spec.StartOffset
	if start < 0 {
		start = 0
	}
	params.StartTime = uint64(start)
	params.EndTime = params.StartTime + spec.Duration

	if spec.Price != "" {
		if params.Price, err = token.ParsePrice(spec.Price, baseDecimals, saleDecimals); err != nil {
			return 0, fmt.Errorf("price: %w", err)
		}
	}
	amounts := []struct {
		raw string
		dst **big.Int
	}{
		{spec.Limit, &params.LimitAmount},
		{spec.Offering, &params.OfferingAmount},
	}
	for _, a := range amounts {
		if a.raw == "" {
			continue
		}
		if *a.dst, err = token.ParseAmount(a.raw, saleDecimals); err != nil {
			return 0, err
		}
	}
	for _, raw := range spec.CurveParams {
		v, err := token.ParsePrice(raw, baseDecimals, saleDecimals)
		if err != nil {
			return 0, fmt.Errorf("curve param: %w", err)
		}
		params.CurveParams = append(params.CurveParams, v)
	}

	return rn.ledger.CreatePool(ctx, rn.tx(owner, nil), params)
}

func (rn *run) step(ctx context.Context, i int, st Step) StepResult {
	res := StepResult{Index: i, Action: st.Action, From: st.From, Timestamp: rn.clock}

	if st.Action == ActionAdvanceTime {
		rn.clock += st.Seconds
		return res
	}

	from, err := rn.sc.resolve(st.From)
	if err != nil {
		res.Err = err
		res.Failure = err.Error()
		return res
	}

	var purchase *ledger.Purchase
	switch st.Action {
	case ActionSetReferral:
		var referrer common.Address
		if st.Referrer != "" {
			if referrer, err = rn.sc.resolve(st.Referrer); err != nil {
				break
			}
		}
		err = rn.ledger.SetReferralAddress(ctx, rn.tx(from, nil), referrer)
	case ActionSetFeeTo:
		var feeTo common.Address
		if feeTo, err = rn.sc.resolve(st.FeeTo); err != nil {
			break
		}
		err = rn.ledger.SetFeeTo(ctx, rn.tx(from, nil), feeTo)
	case ActionCreatePool:
		spec := *st.CreatePool
		if spec.Owner == "" {
			spec.Owner = st.From
		}
		_, err = rn.createPool(ctx, spec)
	case ActionPurchase, ActionPurchaseEth:
		purchase, err = rn.purchase(ctx, from, st)
	}
	res.Err = err

	if purchase != nil {
		res.BaseAmount = token.FormatAmount(purchase.BaseAmount, rn.baseDecimals(purchase.PoolID))
		res.SaleAmount = token.FormatAmount(purchase.SaleAmount, rn.saleDecimals(purchase.PoolID))
	}
	res.Failure = rn.verify(st, purchase, err)

	rn.logger.Debug("step",
		zap.Int("index", i),
		zap.String("action", st.Action),
		zap.String("from", st.From),
		zap.String("sale_amount", res.SaleAmount),
		zap.Error(err),
	)
	return res
}

func (rn *run) purchase(ctx context.Context, from common.Address, st Step) (*ledger.Purchase, error) {
	amount, err := token.ParseAmount(st.Amount, rn.baseDecimals(st.Pool))
	if err != nil {
		return nil, err
	}

	var p ledger.Purchase
	if st.Action == ActionPurchaseEth {
		p, err = rn.ledger.PurchaseSaleTokenWithEth(ctx, rn.tx(from, amount), st.Pool)
	} else {
		p, err = rn.ledger.PurchaseSaleToken(ctx, rn.tx(from, nil), st.Pool, amount)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (rn *run) verify(st Step, p *ledger.Purchase, err error) string {
	if st.ExpectError != "" {
		if err == nil {
			return fmt.Sprintf("expected error %q, call succeeded", st.ExpectError)
		}
		if !strings.Contains(err.Error(), st.ExpectError) {
			return fmt.Sprintf("expected error %q, got %q", st.ExpectError, err.Error())
		}
		return ""
	}
	if err != nil {
		return fmt.Sprintf("unexpected error: %v", err)
	}
	if st.ExpectSale != "" && p != nil {
		want, perr := token.ParseAmount(st.ExpectSale, rn.saleDecimals(p.PoolID))
		if perr != nil {
			return fmt.Sprintf("expect_sale: %v", perr)
		}
		if want.Cmp(p.SaleAmount) != 0 {
			return fmt.Sprintf("expected sale %s, got %s", st.ExpectSale, token.FormatAmount(p.SaleAmount, rn.saleDecimals(p.PoolID)))
		}
	}
	return ""
}

func (rn *run) check(c Check) string {
	holder, err := rn.sc.resolve(c.Account)
	if err != nil {
		return err.Error()
	}
	addr, decimals, err := rn.tokenAddress(c.Token)
	if err != nil {
		return err.Error()
	}
	want, err := token.ParseAmount(c.Balance, decimals)
	if err != nil {
		return err.Error()
	}
	got := rn.balanceOf(addr, holder)
	if got.Cmp(want) != 0 {
		return fmt.Sprintf("expected %s, got %s", c.Balance, token.FormatAmount(got, decimals))
	}
	return ""
}

func (rn *run) balanceOf(tok, holder common.Address) *big.Int {
	if tok == rn.contract {
		return rn.bank.NativeBalance(holder)
	}
	return rn.bank.BalanceOf(tok, holder)
}

func (rn *run) balances() []Balance {
	names := make([]string, 0, len(rn.sc.Accounts))
	for name := range rn.sc.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Balance, 0, len(names)*(len(rn.sc.Tokens)+1))
	for _, name := range names {
		holder := common.HexToAddress(rn.sc.Accounts[name].Address)
		out = append(out, Balance{
			Account: name,
			Token:   Native,
			Amount:  token.FormatAmount(rn.bank.NativeBalance(holder), nativeDecimals),
		})
		for _, tok := range rn.sc.Tokens {
			addr := common.HexToAddress(tok.Address)
			out = append(out, Balance{
				Account: name,
				Token:   tok.Symbol,
				Amount:  token.FormatAmount(rn.bank.BalanceOf(addr, holder), tok.Decimals),
			})
		}
	}
	return out
}

func (rn *run) saleDecimals(pid uint64) uint8 {
	pool, err := rn.ledger.PoolInfo(pid)
	if err != nil {
		return nativeDecimals
	}
	return rn.decimalsOf(pool.SaleToken)
}

func (rn *run) baseDecimals(pid uint64) uint8 {
	pool, err := rn.ledger.PoolInfo(pid)
	if err != nil {
		return nativeDecimals
	}
	return rn.decimalsOf(pool.BaseToken)
}

func (rn *run) decimalsOf(addr common.Address) uint8 {
	if d, ok := rn.decimals[addr]; ok {
		return d
	}
	return token.DefaultDecimals
}
