package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookswap/internal/domain"
	"bookswap/internal/faults"
	"bookswap/internal/storage"
)

func TestTxManager_ExecuteCompletionExchange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	proposalID := seedExchangeProposal(t, ctx, pool)
	nowMs := int64(1700000100000)

	txm := NewTxManager(pool)
	result, err := txm.ExecuteCompletion(ctx, exchangeCompletionData(proposalID, nowMs))
	require.NoError(t, err)
	require.Len(t, result.UpdatedSwaps, 2)
	require.Len(t, result.UpdatedBookings, 2)

	// Swap terminal state and cross-links.
	for _, swap := range result.UpdatedSwaps {
		assert.Equal(t, domain.SwapStatusCompleted, swap.Status)
		require.NotNil(t, swap.CompletedAt)
		assert.Equal(t, nowMs, *swap.CompletedAt)
		require.NotNil(t, swap.CompletionTransactionID)
		assert.Equal(t, "tx-test-1", *swap.CompletionTransactionID)
		require.Len(t, swap.RelatedSwapCompletions, 1)
	}

	// Ownership crossed over and the prior owner is preserved.
	bookA, err := NewBookingStore(pool).GetByID(ctx, "book-a")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusSwapped, bookA.Status)
	assert.Equal(t, "bob", bookA.OwnerID)
	require.NotNil(t, bookA.OriginalOwnerID)
	assert.Equal(t, "alice", *bookA.OriginalOwnerID)
	assert.Equal(t, []string{"book-b"}, bookA.RelatedBookingSwaps)

	bookB, err := NewBookingStore(pool).GetByID(ctx, "book-b")
	require.NoError(t, err)
	assert.Equal(t, "alice", bookB.OwnerID)

	// Proposal accepted with responder recorded.
	require.NotNil(t, result.UpdatedProposal)
	assert.Equal(t, domain.ProposalStatusAccepted, result.UpdatedProposal.Status)
	require.NotNil(t, result.UpdatedProposal.RespondedBy)
	assert.Equal(t, "bob", *result.UpdatedProposal.RespondedBy)

	// Pre-images were captured under the proposal row lock.
	require.NotNil(t, result.Original)
	assert.Equal(t, domain.ProposalStatusPending, result.Original.Proposal.Status)
	require.Len(t, result.Original.Swaps, 2)
	assert.Equal(t, domain.SwapStatusActive, result.Original.Swaps[0].Status)
	assert.Nil(t, result.Original.Swaps[0].CompletionTransactionID)
	require.Len(t, result.Original.Bookings, 2)
	assert.Equal(t, "alice", result.Original.Bookings[0].OwnerID)
	assert.Nil(t, result.Original.Bookings[0].OriginalOwnerID)
}

func TestTxManager_ExecuteCompletionNotPending(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	proposalID := seedExchangeProposal(t, ctx, pool)
	nowMs := int64(1700000100000)

	txm := NewTxManager(pool)
	_, err := txm.ExecuteCompletion(ctx, exchangeCompletionData(proposalID, nowMs))
	require.NoError(t, err)

	// A second attempt finds the proposal already accepted.
	_, err = txm.ExecuteCompletion(ctx, exchangeCompletionData(proposalID, nowMs))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrProposalNotPending)

	fe := faults.As(err)
	assert.Equal(t, faults.CategoryBusiness, fe.Category)
	assert.Equal(t, faults.CodeProposalNotPending, fe.Code)
}

func TestTxManager_ExecuteCompletionInvalidShape(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	txm := NewTxManager(pool)
	_, err := txm.ExecuteCompletion(context.Background(), &domain.CompletionData{
		ProposalID:    "prop-1",
		TransactionID: "tx-test-1",
		SwapUpdates:   []domain.SwapUpdate{{SwapID: "swap-src"}},
		// 1 swap + 2 bookings is not a legal shape
		BookingUpdates: []domain.BookingUpdate{{BookingID: "book-a"}, {BookingID: "book-b"}},
	})
	require.Error(t, err)
	assert.Equal(t, faults.CategoryValidation, faults.As(err).Category)
}

func TestTxManager_ExecuteCompletionMissingSwapAborts(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	proposalID := seedExchangeProposal(t, ctx, pool)
	nowMs := int64(1700000100000)

	data := exchangeCompletionData(proposalID, nowMs)
	data.SwapUpdates[1].SwapID = "swap-nope"

	txm := NewTxManager(pool)
	_, err := txm.ExecuteCompletion(ctx, data)
	require.Error(t, err)
	assert.Equal(t, faults.CategoryDatabase, faults.As(err).Category)

	// Nothing committed: proposal still pending, first swap untouched.
	p, err := NewProposalStore(pool).GetByID(ctx, proposalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusPending, p.Status)

	swap, err := NewSwapStore(pool).GetByID(ctx, "swap-src")
	require.NoError(t, err)
	assert.Equal(t, domain.SwapStatusActive, swap.Status)
	assert.Nil(t, swap.CompletionTransactionID)
}

func TestTxManager_RollbackCompletionRestoresState(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	proposalID := seedExchangeProposal(t, ctx, pool)
	nowMs := int64(1700000100000)

	txm := NewTxManager(pool)
	result, err := txm.ExecuteCompletion(ctx, exchangeCompletionData(proposalID, nowMs))
	require.NoError(t, err)

	err = txm.RollbackCompletion(ctx, "tx-test-1", result.Original)
	require.NoError(t, err)

	p, err := NewProposalStore(pool).GetByID(ctx, proposalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusPending, p.Status)
	assert.Nil(t, p.RespondedAt)
	assert.Nil(t, p.RespondedBy)

	for _, id := range []string{"swap-src", "swap-tgt"} {
		swap, err := NewSwapStore(pool).GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.SwapStatusActive, swap.Status)
		assert.Nil(t, swap.CompletedAt)
		assert.Nil(t, swap.CompletionTransactionID)
		assert.Empty(t, swap.RelatedSwapCompletions)
	}

	bookA, err := NewBookingStore(pool).GetByID(ctx, "book-a")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, bookA.Status)
	assert.Equal(t, "alice", bookA.OwnerID)
	assert.Nil(t, bookA.SwapTransactionID)
	assert.Nil(t, bookA.OriginalOwnerID)

	bookB, err := NewBookingStore(pool).GetByID(ctx, "book-b")
	require.NoError(t, err)
	assert.Equal(t, "bob", bookB.OwnerID)
}

func TestTxManager_RollbackCompletionMissingRow(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	txm := NewTxManager(pool)
	err := txm.RollbackCompletion(context.Background(), "tx-test-1", &domain.OriginalStates{
		Proposal: domain.ProposalState{ProposalID: "prop-nope", Status: domain.ProposalStatusPending},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNoRowsAffected)
}
