package storage

import (
	"context"

	"bookswap/internal/domain"
)

// ProposalStore provides access to proposals storage.
type ProposalStore interface {
	// Insert adds a new proposal in pending status.
	Insert(ctx context.Context, p *domain.Proposal) error

	// GetByID retrieves a proposal by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Proposal, error)

	// Exists reports whether a proposal with the id exists.
	Exists(ctx context.Context, id string) (bool, error)

	// MarkRejected transitions a pending proposal to rejected under a row
	// lock. Returns ErrProposalNotPending if it is no longer pending.
	MarkRejected(ctx context.Context, id, respondedBy string, respondedAtMs int64) error

	// ExpirePending marks pending proposals whose expiry passed as expired.
	// Returns the number of proposals transitioned.
	ExpirePending(ctx context.Context, nowMs int64) (int64, error)
}

// SwapStore provides access to swaps storage.
type SwapStore interface {
	// Insert adds a new swap.
	Insert(ctx context.Context, s *domain.Swap) error

	// GetByID retrieves a swap by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Swap, error)

	// Exists reports whether a swap with the id exists.
	Exists(ctx context.Context, id string) (bool, error)
}

// BookingStore provides access to bookings storage.
type BookingStore interface {
	// Insert adds a new booking.
	Insert(ctx context.Context, b *domain.Booking) error

	// GetByID retrieves a booking by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// Exists reports whether a booking with the id exists.
	Exists(ctx context.Context, id string) (bool, error)
}

// PaymentStore provides access to payment_transactions storage.
type PaymentStore interface {
	// Insert adds a new payment transaction.
	Insert(ctx context.Context, p *domain.PaymentTransaction) error

	// GetByID retrieves a payment transaction by id.
	GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error)

	// UpdateStatus transitions a payment transaction's status.
	UpdateStatus(ctx context.Context, id, status string) error
}

// AuditStore provides access to completion_audits storage.
type AuditStore interface {
	// Insert adds a new audit record, normally in in_progress status.
	Insert(ctx context.Context, a *domain.CompletionAuditRecord) error

	// UpdateStatus transitions an audit record and records error details.
	// Pass nil details to clear them.
	UpdateStatus(ctx context.Context, id, status string, errorDetails *string) error

	// SetLedgerTransactionID records the confirmed ledger event id.
	SetLedgerTransactionID(ctx context.Context, id, ledgerTxID string) error

	// GetByTransactionID retrieves the audit record for one saga run.
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.CompletionAuditRecord, error)

	// GetByProposalID retrieves all audit records for a proposal, newest first.
	GetByProposalID(ctx context.Context, proposalID string) ([]*domain.CompletionAuditRecord, error)

	// ListMissingLedger retrieves completed audits that never received a
	// ledger transaction id, for out-of-band reconciliation.
	ListMissingLedger(ctx context.Context, limit int) ([]*domain.CompletionAuditRecord, error)
}

// SagaEventStore appends saga phase transitions for analytics.
type SagaEventStore interface {
	// Insert appends one saga event.
	Insert(ctx context.Context, e *domain.SagaEvent) error
}

// TransactionManager executes one atomic relational transaction per saga
// phase, serializing concurrent attempts on the same proposal via a row lock.
type TransactionManager interface {
	// ExecuteCompletion applies all swap/booking/proposal updates of one
	// completion in a single READ COMMITTED transaction. The proposal row is
	// locked first; any zero-row update aborts the transaction. The returned
	// result carries the pre-images captured under the lock.
	ExecuteCompletion(ctx context.Context, data *domain.CompletionData) (*domain.CompletionResult, error)

	// RollbackCompletion reverts swap/booking/proposal fields to their
	// pre-completion values in a second transaction, for use when a later
	// non-database saga step fails.
	RollbackCompletion(ctx context.Context, transactionID string, original *domain.OriginalStates) error
}

// Corrector applies post-validation status corrections. The batch runs in
// one transaction: on failure no correction is applied.
type Corrector interface {
	ApplyStatusCorrections(ctx context.Context, corrections []domain.StatusCorrection) error
}
