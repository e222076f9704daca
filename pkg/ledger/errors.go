package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrConcurrencyConflict  = errors.New("concurrency conflict")
	ErrInvalidAccountID     = errors.New("invalid account id")
	ErrInvalidOrderID       = errors.New("invalid order id")
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	ErrInvalidDirection     = errors.New("invalid direction")
	ErrInvalidReason        = errors.New("invalid reason")
	ErrInvalidBalance       = errors.New("invalid balance")
	ErrInvalidTimestamp     = errors.New("invalid timestamp")
	ErrUnknownAccount       = errors.New("unknown account")
	ErrBalanceMismatch      = errors.New("balance does not match transaction log")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsRetryable reports whether err is safe to retry as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
