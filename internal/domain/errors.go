package domain

import "github.com/cockroachdb/errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid state")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflict")
	ErrUnauthorized     = errors.New("unauthorized")

	// ErrTransactionFailure marks storage failures (deadlock, serialization
	// conflict, lock timeout, lost connection). The operation was rolled back
	// and may be retried by the caller.
	ErrTransactionFailure = errors.New("transaction failure")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "not_found"},
	{ErrForbidden, "forbidden"},
	{ErrInvalidState, "invalid_state"},
	{ErrCapacityExceeded, "capacity_exceeded"},
	{ErrInvalidInput, "invalid_input"},
	{ErrConflict, "conflict"},
	{ErrUnauthorized, "unauthorized"},
	{ErrTransactionFailure, "transaction_failure"},
}

// Kind returns the stable name of the error kind carried by err, or
// "internal" when err is not one of the domain kinds.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailure)
}

// TransactionFailure marks cause as a retryable storage failure while keeping
// its message and stack for logs.
func TransactionFailure(cause error, op string) error {
	if cause == nil {
		return nil
	}
	err := errors.Mark(errors.Wrap(cause, op), ErrTransactionFailure)
	return errors.WithHint(err, "the transaction was rolled back; retry the request")
}
