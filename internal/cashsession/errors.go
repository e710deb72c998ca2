package cashsession

import "errors"

var (
	ErrCapacityExceeded     = errors.New("maximum number of open cash sessions reached")
	ErrSessionAlreadyClosed = errors.New("cash session is already closed")
	ErrSessionNotFound      = errors.New("cash session not found")
	ErrNegativeAmount       = errors.New("cash amount must not be negative")
	ErrMissingCashier       = errors.New("cashier is required")
)
