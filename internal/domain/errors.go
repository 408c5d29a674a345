package domain

import "errors"

// Recoverable rejections. Every operation that returns one of these leaves
// ledger, position and book state exactly as it was.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoPriceReference    = errors.New("no price reference for symbol")
	ErrInvalidSize         = errors.New("invalid size")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidSide         = errors.New("invalid side")
	ErrInvalidLeverage     = errors.New("invalid leverage")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotCancelable       = errors.New("order not cancelable")
	ErrNoPosition          = errors.New("no open position")
	ErrReduceOnly          = errors.New("reduce-only order would increase exposure")
	ErrPositionFlip        = errors.New("open on opposite side of live position")
)
