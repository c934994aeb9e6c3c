package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_WrapAndUnwrap(t *testing.T) {
	cause := errors.New("row not found")
	err := Wrap(CategoryDatabase, CodeDatabaseTransactionFailed, "completion failed", cause).
		WithContext("proposal_id", "p-1")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), CodeDatabaseTransactionFailed)
	assert.Contains(t, err.Error(), "row not found")
	assert.Equal(t, "p-1", err.Context["proposal_id"])
}

func TestAs_TypedPassthrough(t *testing.T) {
	orig := New(CategoryValidation, CodeCompletionValidationFailed, "bad shape")
	wrapped := fmt.Errorf("outer: %w", orig)

	got := As(wrapped)
	assert.Equal(t, CodeCompletionValidationFailed, got.Code)
	assert.Equal(t, CategoryValidation, got.Category)
}

func TestAs_UntypedBecomesServerError(t *testing.T) {
	got := As(errors.New("boom"))
	require.NotNil(t, got)
	assert.Equal(t, CategoryServer, got.Category)
	assert.Equal(t, CodeInternal, got.Code)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(CategoryLedger))
	assert.True(t, Retryable(CategoryDatabase))
	assert.True(t, Retryable(CategoryPayment))
	assert.False(t, Retryable(CategoryValidation))
	assert.False(t, Retryable(CategoryBusiness))
	assert.False(t, Retryable(CategoryIntegration))
}

func TestRequiresRollback(t *testing.T) {
	assert.True(t, RequiresRollback(CategoryDatabase))
	assert.True(t, RequiresRollback(CategoryPayment))
	assert.True(t, RequiresRollback(CategoryServer))

	// Ledger failures are reconciled out of band, never rolled back.
	assert.False(t, RequiresRollback(CategoryLedger))
	assert.False(t, RequiresRollback(CategoryValidation))
}

func TestIsCriticalFailure(t *testing.T) {
	critical := []error{
		errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"),
		errors.New("unique constraint violation"),
		errors.New("dial tcp: connection refused"),
		errors.New("context deadline exceeded: timeout"),
		errors.New("charge declined: insufficient funds"),
		errors.New("bad gateway"),
	}
	for _, err := range critical {
		assert.True(t, IsCriticalFailure(err), "expected critical: %v", err)
	}

	assert.False(t, IsCriticalFailure(errors.New("no such proposal")))
	assert.False(t, IsCriticalFailure(nil))
}

func TestStepRequiresManualIntervention(t *testing.T) {
	benign := errors.New("notification endpoint returned 500")

	assert.True(t, StepRequiresManualIntervention("database", benign))
	assert.True(t, StepRequiresManualIntervention("payment", benign))
	assert.False(t, StepRequiresManualIntervention("notification", benign))
	assert.False(t, StepRequiresManualIntervention("cleanup", benign))

	// Critical patterns escalate any subsystem.
	assert.True(t, StepRequiresManualIntervention("ledger", errors.New("append timed out")))
}
