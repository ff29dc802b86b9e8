// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrGateActive          = errors.New("safety gate is active")
	ErrNoLiquidContract    = errors.New("no liquid contract available")
	ErrCapExceeded         = errors.New("premium cap exceeded")
	ErrPositionNotFound    = errors.New("position not found")
	ErrBrokerUnavailable   = errors.New("broker unavailable")
	ErrTimeout             = errors.New("operation timed out")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrDuplicateInvocation = errors.New("correlation id already processed")
	ErrDatabaseError       = errors.New("database error")
)

// InvalidInputError represents malformed numeric input. Fatal to the
// single call that received it, never to the cycle.
type InvalidInputError struct {
	Field   string
	Value   float64
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewInvalidInputError creates a new InvalidInputError.
func NewInvalidInputError(field string, value float64, message string) *InvalidInputError {
	return &InvalidInputError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// BrokerError represents an error from the broker boundary.
type BrokerError struct {
	Op      string
	Symbol  string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s] %s: %s: %v", e.Op, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s] %s: %s", e.Op, e.Symbol, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(op, symbol, message string, err error) *BrokerError {
	return &BrokerError{
		Op:      op,
		Symbol:  symbol,
		Message: message,
		Err:     err,
	}
}

// AssignmentUnresolvedError represents a remediation ladder that was
// exhausted without resolving assignment risk. Escalates to the safety
// gate rather than retrying indefinitely.
type AssignmentUnresolvedError struct {
	PositionID string
	ShortDelta float64
	Attempts   []string
	Err        error
}

func (e *AssignmentUnresolvedError) Error() string {
	return fmt.Sprintf("assignment unresolved [%s] short delta %.2f after %d attempts: %v",
		e.PositionID, e.ShortDelta, len(e.Attempts), e.Err)
}

func (e *AssignmentUnresolvedError) Unwrap() error {
	return e.Err
}

// NewAssignmentUnresolvedError creates a new AssignmentUnresolvedError.
func NewAssignmentUnresolvedError(positionID string, shortDelta float64, attempts []string, err error) *AssignmentUnresolvedError {
	return &AssignmentUnresolvedError{
		PositionID: positionID,
		ShortDelta: shortDelta,
		Attempts:   attempts,
		Err:        err,
	}
}

// ReconciliationError represents a broker/local position mismatch after an
// unwind. Always surfaced for manual review, never auto-resolved.
type ReconciliationError struct {
	UnwindID      string
	Discrepancies int
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation discrepancy [%s]: %d position(s) require manual review",
		e.UnwindID, e.Discrepancies)
}

// NewReconciliationError creates a new ReconciliationError.
func NewReconciliationError(unwindID string, discrepancies int) *ReconciliationError {
	return &ReconciliationError{
		UnwindID:      unwindID,
		Discrepancies: discrepancies,
	}
}

// RiskError represents a risk limit violation.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
