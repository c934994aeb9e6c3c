package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bookswap/internal/domain"
	"bookswap/internal/faults"
	"bookswap/internal/storage"
)

// TxManager executes one relational transaction per saga phase. The proposal
// row lock taken at the start of each transaction is the sole serialization
// point for concurrent accept/reject attempts on the same proposal.
type TxManager struct {
	pool *Pool
}

// NewTxManager creates a new TxManager.
func NewTxManager(pool *Pool) *TxManager {
	return &TxManager{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionManager = (*TxManager)(nil)

// ExecuteCompletion applies all swap, booking and proposal updates of one
// completion in a single READ COMMITTED transaction. Any zero-row update or
// constraint violation aborts the whole transaction.
func (m *TxManager) ExecuteCompletion(ctx context.Context, data *domain.CompletionData) (*domain.CompletionResult, error) {
	if data == nil || data.ProposalID == "" || data.TransactionID == "" {
		return nil, faults.New(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
			"completion data is missing required identifiers")
	}
	if !data.ShapeValid() {
		return nil, faults.New(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
			fmt.Sprintf("invalid completion shape: %d swap updates, %d booking updates",
				len(data.SwapUpdates), len(data.BookingUpdates))).
			WithContext("proposal_id", data.ProposalID)
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, m.dbFailure(data, "begin completion transaction", err)
	}
	defer tx.Rollback(ctx)

	// Lock the proposal row before any mutation. This serializes concurrent
	// accept/reject attempts on the same proposal.
	lockedProposal, err := scanProposal(tx.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1 FOR UPDATE`, data.ProposalID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, faults.Wrap(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
				"proposal does not exist", storage.ErrNotFound).
				WithContext("proposal_id", data.ProposalID)
		}
		return nil, m.dbFailure(data, "lock proposal row", err)
	}
	if lockedProposal.Status != domain.ProposalStatusPending {
		return nil, faults.Wrap(faults.CategoryBusiness, faults.CodeProposalNotPending,
			fmt.Sprintf("proposal is %s", lockedProposal.Status), storage.ErrProposalNotPending).
			WithContext("proposal_id", data.ProposalID)
	}

	original := &domain.OriginalStates{
		Proposal: domain.ProposalState{
			ProposalID:  lockedProposal.ID,
			Status:      lockedProposal.Status,
			RespondedAt: lockedProposal.RespondedAt,
			RespondedBy: lockedProposal.RespondedBy,
		},
	}

	// Capture swap and booking pre-images under row locks.
	for _, u := range data.SwapUpdates {
		swap, err := scanSwap(tx.QueryRow(ctx,
			`SELECT `+swapColumns+` FROM swaps WHERE id = $1 FOR UPDATE`, u.SwapID))
		if err != nil {
			if isNotFoundError(err) {
				return nil, m.dbFailure(data, fmt.Sprintf("swap %s missing", u.SwapID), storage.ErrNoRowsAffected)
			}
			return nil, m.dbFailure(data, "lock swap row", err)
		}
		original.Swaps = append(original.Swaps, domain.SwapState{
			SwapID:                  swap.ID,
			Status:                  swap.Status,
			CompletedAt:             swap.CompletedAt,
			CompletionTransactionID: swap.CompletionTransactionID,
			LedgerCompletionID:      swap.LedgerCompletionID,
			RelatedSwapCompletions:  swap.RelatedSwapCompletions,
		})
	}
	for _, u := range data.BookingUpdates {
		b, err := scanBooking(tx.QueryRow(ctx,
			`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, u.BookingID))
		if err != nil {
			if isNotFoundError(err) {
				return nil, m.dbFailure(data, fmt.Sprintf("booking %s missing", u.BookingID), storage.ErrNoRowsAffected)
			}
			return nil, m.dbFailure(data, "lock booking row", err)
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
	}

	result := &domain.CompletionResult{Original: original}

	// Apply swap updates.
	for _, u := range data.SwapUpdates {
		related := u.RelatedSwapCompletions
		if related == nil {
			related = []string{}
		}
		swap, err := scanSwap(tx.QueryRow(ctx, `
			UPDATE swaps
			SET status = $2, completed_at = $3, completion_transaction_id = $4,
				related_swap_completions = $5
			WHERE id = $1
			RETURNING `+swapColumns,
			u.SwapID, u.Status, u.CompletedAt, u.TransactionID, related))
		if err != nil {
			if isNotFoundError(err) {
				return nil, m.dbFailure(data, fmt.Sprintf("update swap %s", u.SwapID), storage.ErrNoRowsAffected)
			}
			return nil, m.dbFailure(data, "update swap", err)
		}
		result.UpdatedSwaps = append(result.UpdatedSwaps, swap)
	}

	// Apply booking updates. The pre-transfer owner is preserved in
	// original_owner_id for audit and rollback.
	for _, u := range data.BookingUpdates {
		related := u.RelatedBookingSwaps
		if related == nil {
			related = []string{}
		}
		b, err := scanBooking(tx.QueryRow(ctx, `
			UPDATE bookings
			SET status = $2, swapped_at = $3, swap_transaction_id = $4,
				original_owner_id = owner_id, owner_id = $5,
				related_booking_swaps = $6
			WHERE id = $1
			RETURNING `+bookingColumns,
			u.BookingID, u.Status, u.SwappedAt, u.TransactionID, u.NewOwnerID, related))
		if err != nil {
			if isNotFoundError(err) {
				return nil, m.dbFailure(data, fmt.Sprintf("update booking %s", u.BookingID), storage.ErrNoRowsAffected)
			}
			return nil, m.dbFailure(data, "update booking", err)
		}
		result.UpdatedBookings = append(result.UpdatedBookings, b)
	}

	// Accept the proposal.
	p, err := scanProposal(tx.QueryRow(ctx, `
		UPDATE proposals
		SET status = $2, responded_at = $3, responded_by = $4
		WHERE id = $1
		RETURNING `+proposalColumns,
		data.ProposalID, domain.ProposalStatusAccepted, data.RespondedAt, data.RespondedBy))
	if err != nil {
		if isNotFoundError(err) {
			return nil, m.dbFailure(data, "update proposal", storage.ErrNoRowsAffected)
		}
		return nil, m.dbFailure(data, "update proposal", err)
	}
	result.UpdatedProposal = p

	if err := tx.Commit(ctx); err != nil {
		return nil, m.dbFailure(data, "commit completion transaction", err)
	}

	return result, nil
}

// RollbackCompletion reverts swap, booking and proposal fields to their
// pre-completion values in a second transaction.
func (m *TxManager) RollbackCompletion(ctx context.Context, transactionID string, original *domain.OriginalStates) error {
	if original == nil {
		return faults.New(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
			"rollback requires captured original states")
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return m.revertFailure(transactionID, "begin rollback transaction", err)
	}
	defer tx.Rollback(ctx)

	for _, s := range original.Swaps {
		related := s.RelatedSwapCompletions
		if related == nil {
			related = []string{}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE swaps
			SET status = $2, completed_at = $3, completion_transaction_id = $4,
				ledger_completion_id = $5, related_swap_completions = $6
			WHERE id = $1
		`, s.SwapID, s.Status, s.CompletedAt, s.CompletionTransactionID, s.LedgerCompletionID, related)
		if err != nil {
			return m.revertFailure(transactionID, "revert swap", err)
		}
		if tag.RowsAffected() == 0 {
			return m.revertFailure(transactionID, fmt.Sprintf("revert swap %s", s.SwapID), storage.ErrNoRowsAffected)
		}
	}

	for _, b := range original.Bookings {
		related := b.RelatedBookingSwaps
		if related == nil {
			related = []string{}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE bookings
			SET status = $2, owner_id = $3, swapped_at = $4,
				swap_transaction_id = $5, original_owner_id = $6,
				related_booking_swaps = $7
			WHERE id = $1
		`, b.BookingID, b.Status, b.OwnerID, b.SwappedAt, b.SwapTransactionID, b.OriginalOwnerID, related)
		if err != nil {
			return m.revertFailure(transactionID, "revert booking", err)
		}
		if tag.RowsAffected() == 0 {
			return m.revertFailure(transactionID, fmt.Sprintf("revert booking %s", b.BookingID), storage.ErrNoRowsAffected)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE proposals
		SET status = $2, responded_at = $3, responded_by = $4
		WHERE id = $1
	`, original.Proposal.ProposalID, original.Proposal.Status,
		original.Proposal.RespondedAt, original.Proposal.RespondedBy)
	if err != nil {
		return m.revertFailure(transactionID, "revert proposal", err)
	}
	if tag.RowsAffected() == 0 {
		return m.revertFailure(transactionID, "revert proposal", storage.ErrNoRowsAffected)
	}

	if err := tx.Commit(ctx); err != nil {
		return m.revertFailure(transactionID, "commit rollback transaction", err)
	}

	return nil
}

// dbFailure wraps a transaction error with the database category so the
// orchestrator rolls back non-database side effects.
func (m *TxManager) dbFailure(data *domain.CompletionData, op string, err error) *faults.Error {
	return faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
		fmt.Sprintf("completion transaction failed: %s", op), err).
		WithContext("proposal_id", data.ProposalID).
		WithContext("transaction_id", data.TransactionID)
}

func (m *TxManager) revertFailure(transactionID, op string, err error) *faults.Error {
	return faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
		fmt.Sprintf("rollback transaction failed: %s", op), err).
		WithContext("transaction_id", transactionID)
}
