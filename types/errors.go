package types

import "errors"

// Every rejected operation surfaces exactly one of these, possibly wrapped
// with context. Callers match with errors.Is; there is no generic catch-all.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrCapExceeded            = errors.New("bank cap exceeded")
	ErrPaused                 = errors.New("deposits paused")
	ErrTokenNotAllowed        = errors.New("token not allowed")
	ErrOraclePriceInvalid     = errors.New("oracle price invalid")
	ErrExternalTransferFailed = errors.New("external transfer failed")
	ErrAccountExists          = errors.New("account already exists")
	ErrReentrantCall          = errors.New("reentrant call")
)
