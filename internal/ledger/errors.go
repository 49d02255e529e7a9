package ledger

import "errors"

// Revert reasons. Messages match the sale contract so simulated and on-chain
// failures read the same.
var (
	ErrExceedLimit       = errors.New("IDO: exceed limited amount")
	ErrExceedOffering    = errors.New("IDO: exceed offering amount")
	ErrOutsideSaleWindow = errors.New("IDO: not in sale period")
	ErrWrongAsset        = errors.New("IDO: wrong payment asset for pool")
	ErrUnauthorized      = errors.New("IDO: caller is not the minter")
	ErrPoolNotFound      = errors.New("IDO: pool does not exist")
	ErrInvalidPool       = errors.New("IDO: invalid pool parameters")
	ErrZeroAmount        = errors.New("IDO: zero amount")
	ErrFeeToNotSet       = errors.New("IDO: fee recipient not set")
	ErrInvalidReferrer   = errors.New("IDO: invalid referrer")
	ErrZeroAddress       = errors.New("IDO: zero address")
	ErrReentrantCall     = errors.New("ReentrancyGuard: reentrant call")
)
