package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrATNotFound is returned when no AT exists for the given address.
	ErrATNotFound = errors.New("AT not found")
	// ErrATStateNotFound is returned when no state row matches a point or latest
	// lookup.
	ErrATStateNotFound = errors.New("AT state not found")
	// ErrInvalidATState is returned when trying to save a state row missing
	// required fields.
	ErrInvalidATState = errors.New("invalid AT state")
	// ErrMissingAddress ...
	ErrMissingAddress = errors.New("missing AT address")
	// ErrMissingHeight ...
	ErrMissingHeight = errors.New("missing height")
	// ErrMissingCreation ...
	ErrMissingCreation = errors.New("missing creation timestamp")
	// ErrMissingStateHash ...
	ErrMissingStateHash = errors.New("missing state hash")
	// ErrInvalidAT is returned when trying to save an AT missing address or
	// code hash.
	ErrInvalidAT = errors.New("invalid AT: address and code hash are mandatory")
	// ErrInvalidMatchingFilter ...
	ErrInvalidMatchingFilter = errors.New("invalid matching states filter")
	// ErrInvalidHeightRange ...
	ErrInvalidHeightRange = errors.New("invalid height range")
	// ErrTimeout is returned when a repository operation exceeds its deadline.
	ErrTimeout = errors.New("repository operation timed out")
	// ErrNoTransaction is returned when a savepoint is requested outside of a
	// transaction.
	ErrNoTransaction = errors.New("no transaction in context")
	// ErrNoSavepoint ...
	ErrNoSavepoint = errors.New("no savepoint to rollback to")
	// ErrReadOnlyTransaction ...
	ErrReadOnlyTransaction = errors.New("write operation in read-only transaction")
	// ErrBlockNotFound ...
	ErrBlockNotFound = errors.New("block not found")
)

// Trade bot errors
var (
	// ErrTradeBotNotFound is returned when no entry exists for a trade key.
	ErrTradeBotNotFound = errors.New("trade bot entry not found")
	// ErrTradeBotAlreadyExists ...
	ErrTradeBotAlreadyExists = errors.New("trade bot entry already exists")
	// ErrTradeBotInvalidKey ...
	ErrTradeBotInvalidKey = errors.New("trade private key must be 32 bytes")
	// ErrTradeBotTerminal is returned when trying to move a trade out of a
	// terminal state.
	ErrTradeBotTerminal = errors.New("trade is in a terminal state")
	// ErrTradeBotInvalidTransition ...
	ErrTradeBotInvalidTransition = errors.New("invalid trade state transition")
	// ErrTradeBotUnknownState ...
	ErrTradeBotUnknownState = errors.New("unknown trade state")
)

// DataError wraps any failure of the storage layer.
type DataError struct {
	Op  string
	Err error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error on %s: %s", e.Op, e.Err)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError wraps err into a DataError unless it is nil or already one of
// the domain errors that callers are expected to match on.
func NewDataError(op string, err error) error {
	if err == nil {
		return nil
	}
	var dataErr *DataError
	if errors.As(err, &dataErr) {
		return err
	}
	for _, e := range passthroughErrors {
		if errors.Is(err, e) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	return &DataError{op, err}
}

// IsDataError returns whether err was raised by the storage layer.
func IsDataError(err error) bool {
	var dataErr *DataError
	return errors.As(err, &dataErr)
}

// CheckContext returns ErrTimeout if the given context is done.
func CheckContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	return nil
}

var passthroughErrors = []error{
	ErrATNotFound,
	ErrATStateNotFound,
	ErrInvalidATState,
	ErrInvalidAT,
	ErrInvalidMatchingFilter,
	ErrInvalidHeightRange,
	ErrTimeout,
	ErrNoTransaction,
	ErrNoSavepoint,
	ErrReadOnlyTransaction,
	ErrBlockNotFound,
	ErrTradeBotNotFound,
	ErrTradeBotAlreadyExists,
	ErrTradeBotInvalidKey,
}
