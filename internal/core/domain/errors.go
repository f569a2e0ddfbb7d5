package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrProductNotFound     = errors.New("product not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotConnected        = errors.New("ledger node not connected")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrQueueFull           = errors.New("submission queue full")
)

// ValidationError rejects bad input before any mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConnectionError means the ledger node could not be reached or answered
// with something that is not a JSON-RPC response.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "ledger connection: " + e.Op
	}
	return fmt.Sprintf("ledger connection: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// LedgerRejectedError carries an explicit error object returned by the node.
type LedgerRejectedError struct {
	Code   int
	Reason string
}

func (e *LedgerRejectedError) Error() string {
	return fmt.Sprintf("ledger rejected (code %d): %s", e.Code, e.Reason)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
