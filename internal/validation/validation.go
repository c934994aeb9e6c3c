// Package validation checks entity state before a completion starts and
// after it lands. Pre-completion validation is advisory and runs outside the
// transaction; the transaction re-checks the proposal under its row lock.
// Post-completion validation re-reads persisted state and reports drift,
// which the caller may repair through a storage.Corrector.
package validation

import (
	"context"
	"fmt"
	"time"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// Timing tolerances for post-completion checks. Drift beyond either bound is
// a warning, not an error: clocks on the write path are not perfectly
// aligned with the validator's.
const (
	// EntityTimestampTolerance bounds the gap between an entity's persisted
	// completion timestamp and the expected one.
	EntityTimestampTolerance = time.Second

	// CrossEntityWindow bounds the spread of completion timestamps across
	// all entities of one run.
	CrossEntityWindow = 5 * time.Second
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue codes.
const (
	CodeProposalNotPending   = "proposal_not_pending"
	CodeProposalExpired      = "proposal_expired"
	CodeSelfProposal         = "self_proposal"
	CodeMissingEntity        = "missing_entity"
	CodeSwapNotActive        = "swap_not_active"
	CodeSwapCompleted        = "swap_already_completed"
	CodeBookingNotConfirmed  = "booking_not_confirmed"
	CodeBookingSwapped       = "booking_already_swapped"
	CodeOwnerMismatch        = "owner_mismatch"
	CodeCheckInPassed        = "check_in_passed"
	CodeReferentialMismatch  = "referential_mismatch"
	CodeShapeMismatch        = "shape_mismatch"
	CodeStatusDrift          = "status_drift"
	CodeTransactionIDDrift   = "transaction_id_drift"
	CodeTimestampDrift       = "timestamp_drift"
	CodeMissingSiblingRef    = "missing_sibling_ref"
	CodeOwnerTransferMissing = "owner_transfer_missing"
)

// Issue is one validation finding against one entity.
type Issue struct {
	Severity   string
	Code       string
	EntityType string
	EntityID   string
	Message    string
}

// Result aggregates the findings of one validation pass.
type Result struct {
	Issues []Issue
}

// Valid reports whether the result contains no error-severity issues.
// Warnings do not invalidate a result.
func (r *Result) Valid() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns the error-severity issues.
func (r *Result) Errors() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			out = append(out, is)
		}
	}
	return out
}

// Warnings returns the warning-severity issues.
func (r *Result) Warnings() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == SeverityWarning {
			out = append(out, is)
		}
	}
	return out
}

func (r *Result) addError(code, entityType, entityID, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Severity:   SeverityError,
		Code:       code,
		EntityType: entityType,
		EntityID:   entityID,
		Message:    fmt.Sprintf(format, args...),
	})
}

func (r *Result) addWarning(code, entityType, entityID, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Severity:   SeverityWarning,
		Code:       code,
		EntityType: entityType,
		EntityID:   entityID,
		Message:    fmt.Sprintf(format, args...),
	})
}

// Validator runs pre- and post-completion checks against the stores.
type Validator struct {
	proposals storage.ProposalStore
	swaps     storage.SwapStore
	bookings  storage.BookingStore
	now       func() int64
}

// NewValidator creates a validator reading from the given stores.
func NewValidator(proposals storage.ProposalStore, swaps storage.SwapStore, bookings storage.BookingStore) *Validator {
	return &Validator{
		proposals: proposals,
		swaps:     swaps,
		bookings:  bookings,
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// ProbeEntityType reports which table holds the given id. Returns
// storage.ErrNotFound when no table does.
func (v *Validator) ProbeEntityType(ctx context.Context, id string) (string, error) {
	if ok, err := v.swaps.Exists(ctx, id); err != nil {
		return "", err
	} else if ok {
		return domain.EntityTypeSwap, nil
	}
	if ok, err := v.bookings.Exists(ctx, id); err != nil {
		return "", err
	} else if ok {
		return domain.EntityTypeBooking, nil
	}
	if ok, err := v.proposals.Exists(ctx, id); err != nil {
		return "", err
	} else if ok {
		return domain.EntityTypeProposal, nil
	}
	return "", storage.ErrNotFound
}
