package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

func seedAudit(t *testing.T, ctx context.Context, pool *Pool, id, proposalID, txID, status string, createdAt int64) {
	t.Helper()

	err := NewAuditStore(pool).Insert(ctx, &domain.CompletionAuditRecord{
		ID:               id,
		ProposalID:       proposalID,
		TransactionID:    txID,
		AffectedSwaps:    []string{"swap-src", "swap-tgt"},
		AffectedBookings: []string{"book-a", "book-b"},
		Status:           status,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	})
	require.NoError(t, err)
}

func TestAuditStore_InsertAndGetByTransactionID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	proposalID := seedExchangeProposal(t, ctx, pool)
	seedAudit(t, ctx, pool, "audit-1", proposalID, "tx-test-1", domain.AuditStatusInProgress, 1700000000000)

	a, err := NewAuditStore(pool).GetByTransactionID(ctx, "tx-test-1")
	require.NoError(t, err)
	assert.Equal(t, "audit-1", a.ID)
	assert.Equal(t, proposalID, a.ProposalID)
	assert.Nil(t, a.LedgerTransactionID)
	assert.Equal(t, []string{"swap-src", "swap-tgt"}, a.AffectedSwaps)
	assert.Equal(t, []string{"book-a", "book-b"}, a.AffectedBookings)
	assert.Equal(t, domain.AuditStatusInProgress, a.Status)
	assert.Nil(t, a.ErrorDetails)

	_, err = NewAuditStore(pool).GetByTransactionID(ctx, "tx-nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAuditStore_UpdateStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	proposalID := seedExchangeProposal(t, ctx, pool)
	seedAudit(t, ctx, pool, "audit-1", proposalID, "tx-test-1", domain.AuditStatusInProgress, 1700000000000)

	store := NewAuditStore(pool)
	details := `{"code":"ROLLBACK_FAILED"}`
	err := store.UpdateStatus(ctx, "audit-1", domain.AuditStatusFailed, &details)
	require.NoError(t, err)

	a, err := store.GetByTransactionID(ctx, "tx-test-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuditStatusFailed, a.Status)
	require.NotNil(t, a.ErrorDetails)
	assert.Equal(t, details, *a.ErrorDetails)
	assert.Greater(t, a.UpdatedAt, a.CreatedAt)

	err = store.UpdateStatus(ctx, "audit-nope", domain.AuditStatusFailed, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAuditStore_SetLedgerTransactionID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	proposalID := seedExchangeProposal(t, ctx, pool)
	seedAudit(t, ctx, pool, "audit-1", proposalID, "tx-test-1", domain.AuditStatusCompleted, 1700000000000)

	store := NewAuditStore(pool)
	err := store.SetLedgerTransactionID(ctx, "audit-1", "ledger-evt-1")
	require.NoError(t, err)

	a, err := store.GetByTransactionID(ctx, "tx-test-1")
	require.NoError(t, err)
	require.NotNil(t, a.LedgerTransactionID)
	assert.Equal(t, "ledger-evt-1", *a.LedgerTransactionID)

	err = store.SetLedgerTransactionID(ctx, "audit-nope", "ledger-evt-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAuditStore_GetByProposalIDNewestFirst(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	proposalID := seedExchangeProposal(t, ctx, pool)
	seedAudit(t, ctx, pool, "audit-old", proposalID, "tx-test-1", domain.AuditStatusRolledBack, 1700000000000)
	seedAudit(t, ctx, pool, "audit-new", proposalID, "tx-test-2", domain.AuditStatusCompleted, 1700000100000)

	audits, err := NewAuditStore(pool).GetByProposalID(ctx, proposalID)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "audit-new", audits[0].ID)
	assert.Equal(t, "audit-old", audits[1].ID)

	none, err := NewAuditStore(pool).GetByProposalID(ctx, "prop-nope")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditStore_ListMissingLedger(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	proposalID := seedExchangeProposal(t, ctx, pool)
	seedAudit(t, ctx, pool, "audit-missing-2", proposalID, "tx-test-2", domain.AuditStatusCompleted, 1700000200000)
	seedAudit(t, ctx, pool, "audit-missing-1", proposalID, "tx-test-1", domain.AuditStatusCompleted, 1700000100000)
	seedAudit(t, ctx, pool, "audit-failed", proposalID, "tx-test-3", domain.AuditStatusFailed, 1700000000000)
	seedAudit(t, ctx, pool, "audit-patched", proposalID, "tx-test-4", domain.AuditStatusCompleted, 1700000000000)

	store := NewAuditStore(pool)
	err := store.SetLedgerTransactionID(ctx, "audit-patched", "ledger-evt-4")
	require.NoError(t, err)

	// Oldest first; failed and already-patched audits excluded.
	missing, err := store.ListMissingLedger(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 2)
	assert.Equal(t, "audit-missing-1", missing[0].ID)
	assert.Equal(t, "audit-missing-2", missing[1].ID)

	limited, err := store.ListMissingLedger(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "audit-missing-1", limited[0].ID)
}
