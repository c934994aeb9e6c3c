package memory

import (
	"context"
	"fmt"
	"sync"

	"bookswap/internal/domain"
	"bookswap/internal/faults"
	"bookswap/internal/storage"
)

// TxManager is an in-memory implementation of storage.TransactionManager.
// It mirrors the Postgres semantics closely enough for orchestrator and
// validation tests: shape checks, pending check, pre-image capture, and
// all-or-nothing application.
type TxManager struct {
	mu        sync.Mutex
	proposals *ProposalStore
	swaps     *SwapStore
	bookings  *BookingStore

	// Failure injection for tests. When set, the next call returns the
	// error and the field is cleared.
	FailExecute  error
	FailRollback error
}

// NewTxManager creates a new in-memory TxManager over the given stores.
func NewTxManager(proposals *ProposalStore, swaps *SwapStore, bookings *BookingStore) *TxManager {
	return &TxManager{proposals: proposals, swaps: swaps, bookings: bookings}
}

// Compile-time interface check.
var _ storage.TransactionManager = (*TxManager)(nil)

// ExecuteCompletion applies all updates of one completion atomically.
func (m *TxManager) ExecuteCompletion(ctx context.Context, data *domain.CompletionData) (*domain.CompletionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailExecute; err != nil {
		m.FailExecute = nil
		return nil, err
	}

	if data == nil || data.ProposalID == "" || data.TransactionID == "" {
		return nil, faults.New(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
			"completion data is missing required identifiers")
	}
	if !data.ShapeValid() {
		return nil, faults.New(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
			fmt.Sprintf("invalid completion shape: %d swap updates, %d booking updates",
				len(data.SwapUpdates), len(data.BookingUpdates)))
	}

	proposal, err := m.proposals.GetByID(ctx, data.ProposalID)
	if err != nil {
		return nil, faults.Wrap(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
			"proposal does not exist", err)
	}
	if proposal.Status != domain.ProposalStatusPending {
		return nil, faults.Wrap(faults.CategoryBusiness, faults.CodeProposalNotPending,
			fmt.Sprintf("proposal is %s", proposal.Status), storage.ErrProposalNotPending)
	}

	original := &domain.OriginalStates{
		Proposal: domain.ProposalState{
			ProposalID:  proposal.ID,
			Status:      proposal.Status,
			RespondedAt: proposal.RespondedAt,
			RespondedBy: proposal.RespondedBy,
		},
	}

	// Capture pre-images and verify every affected row exists before
	// mutating anything.
	swaps := make([]*domain.Swap, 0, len(data.SwapUpdates))
	for _, u := range data.SwapUpdates {
		swap, err := m.swaps.GetByID(ctx, u.SwapID)
		if err != nil {
			return nil, m.dbFailure(data, fmt.Sprintf("swap %s missing", u.SwapID), storage.ErrNoRowsAffected)
		}
		original.Swaps = append(original.Swaps, domain.SwapState{
			SwapID:                  swap.ID,
			Status:                  swap.Status,
			CompletedAt:             swap.CompletedAt,
			CompletionTransactionID: swap.CompletionTransactionID,
			LedgerCompletionID:      swap.LedgerCompletionID,
			RelatedSwapCompletions:  swap.RelatedSwapCompletions,
		})
		swaps = append(swaps, swap)
	}
	bookings := make([]*domain.Booking, 0, len(data.BookingUpdates))
	for _, u := range data.BookingUpdates {
		b, err := m.bookings.GetByID(ctx, u.BookingID)
		if err != nil {
			return nil, m.dbFailure(data, fmt.Sprintf("booking %s missing", u.BookingID), storage.ErrNoRowsAffected)
		}
		original.Bookings = append(original.Bookings, domain.BookingState{
			BookingID:           b.ID,
			OwnerID:             b.OwnerID,
			Status:              b.Status,
			SwappedAt:           b.SwappedAt,
			SwapTransactionID:   b.SwapTransactionID,
			OriginalOwnerID:     b.OriginalOwnerID,
			RelatedBookingSwaps: b.RelatedBookingSwaps,
		})
		bookings = append(bookings, b)
	}

	result := &domain.CompletionResult{Original: original}

	for i, u := range data.SwapUpdates {
		swap := swaps[i]
		completedAt := u.CompletedAt
		txID := u.TransactionID
		swap.Status = u.Status
		swap.CompletedAt = &completedAt
		swap.CompletionTransactionID = &txID
		swap.RelatedSwapCompletions = append([]string(nil), u.RelatedSwapCompletions...)
		m.swaps.put(swap)
		result.UpdatedSwaps = append(result.UpdatedSwaps, swap)
	}
	for i, u := range data.BookingUpdates {
		b := bookings[i]
		swappedAt := u.SwappedAt
		txID := u.TransactionID
		prevOwner := b.OwnerID
		b.Status = u.Status
		b.SwappedAt = &swappedAt
		b.SwapTransactionID = &txID
		b.OriginalOwnerID = &prevOwner
		b.OwnerID = u.NewOwnerID
		b.RelatedBookingSwaps = append([]string(nil), u.RelatedBookingSwaps...)
		m.bookings.put(b)
		result.UpdatedBookings = append(result.UpdatedBookings, b)
	}

	respondedAt := data.RespondedAt
	respondedBy := data.RespondedBy
	proposal.Status = domain.ProposalStatusAccepted
	proposal.RespondedAt = &respondedAt
	proposal.RespondedBy = &respondedBy
	m.proposals.put(proposal)
	result.UpdatedProposal = proposal

	return result, nil
}

// RollbackCompletion restores the captured pre-images.
func (m *TxManager) RollbackCompletion(ctx context.Context, transactionID string, original *domain.OriginalStates) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailRollback; err != nil {
		m.FailRollback = nil
		return err
	}

	if original == nil {
		return faults.New(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
			"rollback requires captured original states")
	}

	for _, s := range original.Swaps {
		swap, err := m.swaps.GetByID(ctx, s.SwapID)
		if err != nil {
			return faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
				"revert swap", err).WithContext("transaction_id", transactionID)
		}
		swap.Status = s.Status
		swap.CompletedAt = s.CompletedAt
		swap.CompletionTransactionID = s.CompletionTransactionID
		swap.LedgerCompletionID = s.LedgerCompletionID
		swap.RelatedSwapCompletions = append([]string(nil), s.RelatedSwapCompletions...)
		m.swaps.put(swap)
	}
	for _, b := range original.Bookings {
		booking, err := m.bookings.GetByID(ctx, b.BookingID)
		if err != nil {
			return faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
				"revert booking", err).WithContext("transaction_id", transactionID)
		}
		booking.Status = b.Status
		booking.OwnerID = b.OwnerID
		booking.SwappedAt = b.SwappedAt
		booking.SwapTransactionID = b.SwapTransactionID
		booking.OriginalOwnerID = b.OriginalOwnerID
		booking.RelatedBookingSwaps = append([]string(nil), b.RelatedBookingSwaps...)
		m.bookings.put(booking)
	}

	proposal, err := m.proposals.GetByID(ctx, original.Proposal.ProposalID)
	if err != nil {
		return faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
			"revert proposal", err).WithContext("transaction_id", transactionID)
	}
	proposal.Status = original.Proposal.Status
	proposal.RespondedAt = original.Proposal.RespondedAt
	proposal.RespondedBy = original.Proposal.RespondedBy
	m.proposals.put(proposal)

	return nil
}

func (m *TxManager) dbFailure(data *domain.CompletionData, op string, err error) *faults.Error {
	return faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
		fmt.Sprintf("completion transaction failed: %s", op), err).
		WithContext("proposal_id", data.ProposalID).
		WithContext("transaction_id", data.TransactionID)
}
