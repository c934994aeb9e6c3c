// Package faults defines the error taxonomy shared by the completion saga.
// Every component returns a *Error carrying a machine-readable code, a human
// message and the ids involved; the orchestrator alone decides rollback
// versus surface-to-caller based on the category.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. The category decides retryability and whether a failure
// demands rollback or manual intervention.
const (
	CategoryValidation  = "validation"
	CategoryBusiness    = "business"
	CategoryLedger      = "ledger"
	CategoryDatabase    = "database"
	CategoryPayment     = "payment"
	CategoryIntegration = "integration"
	CategoryServer      = "server_error"
)

// Error codes surfaced to callers.
const (
	CodeCompletionValidationFailed = "COMPLETION_VALIDATION_FAILED"
	CodeDatabaseTransactionFailed  = "DATABASE_TRANSACTION_FAILED"
	CodeLedgerAppendFailed         = "LEDGER_APPEND_FAILED"
	CodePaymentFailed              = "PAYMENT_FAILED"
	CodePaymentReversalFailed      = "PAYMENT_REVERSAL_FAILED"
	CodeProposalNotPending         = "PROPOSAL_NOT_PENDING"
	CodeProposalExpired            = "PROPOSAL_EXPIRED"
	CodeNotAuthorized              = "NOT_AUTHORIZED"
	CodeRollbackFailed             = "ROLLBACK_FAILED"
	CodeManualInterventionRequired = "MANUAL_INTERVENTION_REQUIRED"
	CodePostValidationFailed       = "POST_VALIDATION_FAILED"
	CodeInternal                   = "INTERNAL_ERROR"
)

// Error is the typed error every saga component returns.
type Error struct {
	Category           string
	Code               string
	Message            string
	Context            map[string]string // ids involved: proposal_id, swap_id, ...
	ManualIntervention bool
	Err                error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Code, e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Code, e.Category, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithContext attaches an id to the error context and returns the error.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// New creates a typed error.
func New(category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// Wrap creates a typed error around a cause.
func Wrap(category, code, message string, err error) *Error {
	return &Error{Category: category, Code: code, Message: message, Err: err}
}

// As extracts a *Error from an error chain, or wraps an untyped error as a
// server_error so the orchestrator always has a category to act on.
func As(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Wrap(CategoryServer, CodeInternal, "unexpected error", err)
}

// Retryable reports whether a failure in the category may be retried.
// Validation and business failures are final; integration failures are
// logged, not retried.
func Retryable(category string) bool {
	switch category {
	case CategoryLedger, CategoryDatabase, CategoryPayment:
		return true
	default:
		return false
	}
}

// RequiresRollback reports whether a failure in the category must unwind
// already-applied side effects. Ledger failures after a database commit are
// the deliberate exception: ledger writes are not retractable, so they are
// logged for reconciliation instead.
func RequiresRollback(category string) bool {
	switch category {
	case CategoryDatabase, CategoryPayment, CategoryServer:
		return true
	default:
		return false
	}
}

// criticalPatterns are error-message fragments that mark a compensation
// failure as unsafe to continue automatically.
var criticalPatterns = []string{
	"constraint",
	"deadlock",
	"connection refused",
	"connection reset",
	"connection lost",
	"timeout",
	"timed out",
	"insufficient funds",
	"gateway",
}

// IsCriticalFailure reports whether the error message matches a known
// critical pattern (constraint violation, deadlock, connection loss,
// timeout, insufficient funds, gateway error).
func IsCriticalFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range criticalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// StepRequiresManualIntervention classifies a failed compensation step: the
// database and payment subsystems always require an operator, and any step
// whose error matches a critical pattern does too.
func StepRequiresManualIntervention(stepType string, err error) bool {
	switch stepType {
	case "database", "payment":
		return true
	}
	return IsCriticalFailure(err)
}
