package domain

import "errors"

var (
	// ErrInvalidParameter marks a caller or configuration bug. Never retried.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInsufficientFunds marks a request that exceeds what the wallet can spend.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConfirmationTimeout marks an on-chain confirmation wait that expired.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrLockContention marks a wallet lock held by another worker.
	ErrLockContention = errors.New("lock contention")
	// ErrNoDebt marks a repayment requested for an account without debt.
	ErrNoDebt = errors.New("no debt")
	// ErrNotFound marks a missing intent, wallet or account.
	ErrNotFound = errors.New("not found")
)

// IsRetryable reports whether the scheduler should redeliver after err.
// Errors outside the permanent classes are assumed to be transient chain or
// network failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrNoDebt),
		errors.Is(err, ErrNotFound):
		return false
	}
	return true
}
