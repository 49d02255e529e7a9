package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("ERC20: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("ERC20: transfer amount exceeds allowance")
	ErrInsufficientNative    = errors.New("insufficient native balance")
	ErrNegativeAmount        = errors.New("negative amount")
	ErrInvalidSnapshot       = errors.New("invalid snapshot id")
)

// ReceiveHook runs after native currency lands on a hooked account. A non-nil
// error fails the transfer.
type ReceiveHook func(ctx context.Context, from common.Address, amount *big.Int) error

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Bank is an in-memory ERC-20 and native currency ledger with a revert journal.
// Changes are journaled only while a snapshot is open. A revert undoes every
// change since its snapshot, whoever made it, so a Bank shared with the ledger
// must not be written by other goroutines while a purchase is settling.
type Bank struct {
	mu         sync.Mutex
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[allowanceKey]*big.Int
	native     map[common.Address]*big.Int
	hooks      map[common.Address]ReceiveHook
	journal    []func()
	open       int
}

func NewBank() *Bank {
	return &Bank{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[allowanceKey]*big.Int),
		native:     make(map[common.Address]*big.Int),
		hooks:      make(map[common.Address]ReceiveHook),
	}
}

// Mint credits amount of token to holder.
func (b *Bank) Mint(token, holder common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setBalance(token, holder, new(big.Int).Add(b.balanceLocked(token, holder), amount))
	return nil
}

func (b *Bank) BalanceOf(token, holder common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balanceLocked(token, holder))
}

// Approve sets the allowance spender may move from owner.
func (b *Bank) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setAllowance(token, allowanceKey{owner: owner, spender: spender}, new(big.Int).Set(amount))
	return nil
}

func (b *Bank) Allowance(token, owner, spender common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.allowanceLocked(token, allowanceKey{owner: owner, spender: spender}))
}

// TransferFrom moves amount of token from one holder to another on behalf of
// spender, consuming allowance.
func (b *Bank) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := allowanceKey{owner: from, spender: spender}
	allowed := b.allowanceLocked(token, key)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s owner %s", ErrInsufficientAllowance, token.Hex(), from.Hex())
	}
	if err := b.moveLocked(token, from, to, amount); err != nil {
		return err
	}
	b.setAllowance(token, key, new(big.Int).Sub(allowed, amount))
	return nil
}

func (b *Bank) NativeBalance(holder common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.nativeLocked(holder))
}

func (b *Bank) SetNativeBalance(holder common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setNative(holder, new(big.Int).Set(amount))
}

// SetReceiveHook registers fn to run whenever holder receives native currency.
// A nil fn removes the hook.
func (b *Bank) SetReceiveHook(holder common.Address, fn ReceiveHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn == nil {
		delete(b.hooks, holder)
		return
	}
	b.hooks[holder] = fn
}

// TransferNative moves native currency and then runs the recipient hook, if any,
// outside the bank lock.
func (b *Bank) TransferNative(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	b.mu.Lock()
	fromBal := b.nativeLocked(from)
	if fromBal.Cmp(amount) < 0 {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientNative, from.Hex(), fromBal, amount)
	}
	b.setNative(from, new(big.Int).Sub(fromBal, amount))
	b.setNative(to, new(big.Int).Add(b.nativeLocked(to), amount))
	hook := b.hooks[to]
	b.mu.Unlock()

	if hook == nil {
		return nil
	}
	return hook(ctx, from, new(big.Int).Set(amount))
}

// Snapshot opens a journal scope and returns its id for RevertToSnapshot or
// DiscardSnapshot.
func (b *Bank) Snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open++
	return len(b.journal)
}

// RevertToSnapshot undoes every change made after the snapshot was taken and
// closes it.
func (b *Bank) RevertToSnapshot(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open == 0 || id < 0 || id > len(b.journal) {
		return fmt.Errorf("%w: %d", ErrInvalidSnapshot, id)
	}
	for i := len(b.journal) - 1; i >= id; i-- {
		b.journal[i]()
	}
	b.journal = b.journal[:id]
	b.closeLocked()
	return nil
}

// DiscardSnapshot closes a snapshot and keeps its changes. Once no snapshot is
// open the journal is released.
func (b *Bank) DiscardSnapshot(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open == 0 || id < 0 || id > len(b.journal) {
		return fmt.Errorf("%w: %d", ErrInvalidSnapshot, id)
	}
	b.closeLocked()
	return nil
}

func (b *Bank) closeLocked() {
	b.open--
	if b.open == 0 {
		b.journal = nil
	}
}

func (b *Bank) record(undo func()) {
	if b.open > 0 {
		b.journal = append(b.journal, undo)
	}
}

func (b *Bank) moveLocked(token, from, to common.Address, amount *big.Int) error {
	fromBal := b.balanceLocked(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s holder %s", ErrInsufficientBalance, token.Hex(), from.Hex())
	}
	b.setBalance(token, from, new(big.Int).Sub(fromBal, amount))
	b.setBalance(token, to, new(big.Int).Add(b.balanceLocked(token, to), amount))
	return nil
}

func (b *Bank) balanceLocked(token, holder common.Address) *big.Int {
	if bal, ok := b.balances[token][holder]; ok {
		return bal
	}
	return new(big.Int)
}

func (b *Bank) allowanceLocked(token common.Address, key allowanceKey) *big.Int {
	if val, ok := b.allowances[token][key]; ok {
		return val
	}
	return new(big.Int)
}

func (b *Bank) nativeLocked(holder common.Address) *big.Int {
	if bal, ok := b.native[holder]; ok {
		return bal
	}
	return new(big.Int)
}

func (b *Bank) setBalance(token, holder common.Address, value *big.Int) {
	holders, ok := b.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		b.balances[token] = holders
	}
	prev, existed := holders[holder]
	b.record(func() {
		if existed {
			holders[holder] = prev
		} else {
			delete(holders, holder)
		}
	})
	holders[holder] = value
}

func (b *Bank) setAllowance(token common.Address, key allowanceKey, value *big.Int) {
	entries, ok := b.allowances[token]
	if !ok {
		entries = make(map[allowanceKey]*big.Int)
		b.allowances[token] = entries
	}
	prev, existed := entries[key]
	b.record(func() {
		if existed {
			entries[key] = prev
		} else {
			delete(entries, key)
		}
	})
	entries[key] = value
}

func (b *Bank) setNative(holder common.Address, value *big.Int) {
	prev, existed := b.native[holder]
	b.record(func() {
		if existed {
			b.native[holder] = prev
		} else {
			delete(b.native, holder)
		}
	})
	b.native[holder] = value
}
