package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

func TestCorrector_ApplyStatusCorrections(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	proposalID := seedExchangeProposal(t, ctx, pool)
	nowMs := int64(1700000100000)

	corrector := NewCorrector(pool)
	err := corrector.ApplyStatusCorrections(ctx, []domain.StatusCorrection{
		{
			EntityID:       "swap-src",
			EntityType:     domain.EntityTypeSwap,
			ExpectedStatus: domain.SwapStatusCompleted,
			Timestamp:      nowMs,
			TransactionID:  "tx-test-1",
		},
		{
			EntityID:       "book-a",
			EntityType:     domain.EntityTypeBooking,
			ExpectedStatus: domain.BookingStatusSwapped,
			Timestamp:      nowMs,
			TransactionID:  "tx-test-1",
		},
		{
			EntityID:       proposalID,
			EntityType:     domain.EntityTypeProposal,
			ExpectedStatus: domain.ProposalStatusAccepted,
			Timestamp:      nowMs,
		},
	})
	require.NoError(t, err)

	swap, err := NewSwapStore(pool).GetByID(ctx, "swap-src")
	require.NoError(t, err)
	assert.Equal(t, domain.SwapStatusCompleted, swap.Status)
	require.NotNil(t, swap.CompletedAt)
	assert.Equal(t, nowMs, *swap.CompletedAt)
	require.NotNil(t, swap.CompletionTransactionID)
	assert.Equal(t, "tx-test-1", *swap.CompletionTransactionID)

	booking, err := NewBookingStore(pool).GetByID(ctx, "book-a")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusSwapped, booking.Status)
	require.NotNil(t, booking.SwapTransactionID)
	assert.Equal(t, "tx-test-1", *booking.SwapTransactionID)

	p, err := NewProposalStore(pool).GetByID(ctx, proposalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusAccepted, p.Status)
	require.NotNil(t, p.RespondedAt)
	assert.Equal(t, nowMs, *p.RespondedAt)
}

func TestCorrector_ApplyIsIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedExchangeProposal(t, ctx, pool)

	corrector := NewCorrector(pool)
	corrections := []domain.StatusCorrection{{
		EntityID:       "swap-src",
		EntityType:     domain.EntityTypeSwap,
		ExpectedStatus: domain.SwapStatusCompleted,
		Timestamp:      1700000100000,
		TransactionID:  "tx-test-1",
	}}

	require.NoError(t, corrector.ApplyStatusCorrections(ctx, corrections))

	// Re-applying with a later timestamp does not touch the settled row.
	corrections[0].Timestamp = 1700000900000
	corrections[0].TransactionID = "tx-test-2"
	require.NoError(t, corrector.ApplyStatusCorrections(ctx, corrections))

	swap, err := NewSwapStore(pool).GetByID(ctx, "swap-src")
	require.NoError(t, err)
	require.NotNil(t, swap.CompletedAt)
	assert.Equal(t, int64(1700000100000), *swap.CompletedAt)
	require.NotNil(t, swap.CompletionTransactionID)
	assert.Equal(t, "tx-test-1", *swap.CompletionTransactionID)
}

func TestCorrector_UnknownEntityTypeAbortsBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedExchangeProposal(t, ctx, pool)

	corrector := NewCorrector(pool)
	err := corrector.ApplyStatusCorrections(ctx, []domain.StatusCorrection{
		{
			EntityID:       "swap-src",
			EntityType:     domain.EntityTypeSwap,
			ExpectedStatus: domain.SwapStatusCompleted,
			Timestamp:      1700000100000,
		},
		{
			EntityID:       "mystery-1",
			EntityType:     "payment",
			ExpectedStatus: "captured",
			Timestamp:      1700000100000,
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	// All or nothing: the valid correction was rolled back with the batch.
	swap, err := NewSwapStore(pool).GetByID(ctx, "swap-src")
	require.NoError(t, err)
	assert.Equal(t, domain.SwapStatusActive, swap.Status)
}

func TestCorrector_EmptyBatchIsNoop(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	corrector := NewCorrector(pool)
	require.NoError(t, corrector.ApplyStatusCorrections(context.Background(), nil))
}
