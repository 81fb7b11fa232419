package engine

import (
	"errors"
	"fmt"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
)

// EngineError represents a failure detected while executing or
// reconciling transactions.
//
// Categories and their handling:
//   - Validation: the whole transaction is rejected, nothing applied
//   - AsyncDelivery: recovered as an error value in the affected cell
//   - Protocol: an unclosable sequence gap, surfaced as reload-required
//   - InternalConsistency: a reverse operation failed to apply - fatal
//
// Circular references are not EngineErrors: they are ordinary cell
// state (grid.ErrorValue with ErrCodeCircular) and the transaction
// still commits.
type EngineError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// TransactionID identifies the affected transaction, if any.
	TransactionID string

	// Cell identifies the affected cell (for async delivery errors).
	Cell grid.SheetPos

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates an operation referenced a stale or
	// invalid target; the whole transaction is rejected.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeAsyncDelivery indicates an external evaluator reported a
	// failure delivering a code-cell result.
	ErrCodeAsyncDelivery ErrorCode = "ASYNC_DELIVERY"

	// ErrCodeProtocol indicates a multiplayer sequence gap that could not
	// be closed; the client must reload.
	ErrCodeProtocol ErrorCode = "PROTOCOL"

	// ErrCodeInternalConsistency indicates a reverse operation failed to
	// apply. The undo invariant is broken; this is fatal.
	ErrCodeInternalConsistency ErrorCode = "INTERNAL_CONSISTENCY"
)

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.TransactionID != "" {
		return fmt.Sprintf("%s: %s (transaction=%s)", e.Code, e.Message, e.TransactionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// IsValidationError returns true for validation failures.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == ErrCodeValidation
}

// IsProtocolError returns true for unclosable-gap failures.
func IsProtocolError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == ErrCodeProtocol
}

// IsAsyncDeliveryError returns true for evaluator delivery failures.
func IsAsyncDeliveryError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == ErrCodeAsyncDelivery
}

// NewValidationError wraps an operation-target failure.
func NewValidationError(txID string, cause error) *EngineError {
	return &EngineError{
		Code:          ErrCodeValidation,
		Message:       cause.Error(),
		TransactionID: txID,
		Err:           cause,
	}
}

// NewProtocolError reports an unclosable sequence gap.
func NewProtocolError(lastSeq, wantSeq uint64) *EngineError {
	return &EngineError{
		Code:    ErrCodeProtocol,
		Message: fmt.Sprintf("sequence gap %d..%d could not be closed; reload required", lastSeq+1, wantSeq),
	}
}

// internalConsistencyPanic aborts on a broken undo invariant. Reverse
// operations restore captured prior state, so a failure here means the
// grid and the undo stack disagree; continuing would corrupt the
// document.
func internalConsistencyPanic(txID string, cause error) {
	panic(&EngineError{
		Code:          ErrCodeInternalConsistency,
		Message:       "reverse operation failed to apply",
		TransactionID: txID,
		Err:           cause,
	})
}
