package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// AuditStore implements storage.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *Pool
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

const auditColumns = `
	id, proposal_id, transaction_id, ledger_transaction_id,
	affected_swaps, affected_bookings, status, error_details, created_at, updated_at
`

// Insert adds a new audit record.
func (s *AuditStore) Insert(ctx context.Context, a *domain.CompletionAuditRecord) error {
	query := `
		INSERT INTO completion_audits (
			id, proposal_id, transaction_id, ledger_transaction_id,
			affected_swaps, affected_bookings, status, error_details, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	swaps := a.AffectedSwaps
	if swaps == nil {
		swaps = []string{}
	}
	bookings := a.AffectedBookings
	if bookings == nil {
		bookings = []string{}
	}

	_, err := s.pool.Exec(ctx, query,
		a.ID,
		a.ProposalID,
		a.TransactionID,
		a.LedgerTransactionID,
		swaps,
		bookings,
		a.Status,
		a.ErrorDetails,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert completion audit: %w", err)
	}
	return nil
}

// UpdateStatus transitions an audit record and records error details.
func (s *AuditStore) UpdateStatus(ctx context.Context, id, status string, errorDetails *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE completion_audits
		SET status = $2, error_details = $3, updated_at = $4
		WHERE id = $1
	`, id, status, errorDetails, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("update audit status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetLedgerTransactionID records the confirmed ledger event id.
func (s *AuditStore) SetLedgerTransactionID(ctx context.Context, id, ledgerTxID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE completion_audits
		SET ledger_transaction_id = $2, updated_at = $3
		WHERE id = $1
	`, id, ledgerTxID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set audit ledger transaction id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByTransactionID retrieves the audit record for one saga run.
func (s *AuditStore) GetByTransactionID(ctx context.Context, transactionID string) (*domain.CompletionAuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM completion_audits WHERE transaction_id = $1`

	a, err := scanAudit(s.pool.QueryRow(ctx, query, transactionID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get audit by transaction id: %w", err)
	}
	return a, nil
}

// GetByProposalID retrieves all audit records for a proposal, newest first.
func (s *AuditStore) GetByProposalID(ctx context.Context, proposalID string) ([]*domain.CompletionAuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM completion_audits WHERE proposal_id = $1 ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("get audits by proposal id: %w", err)
	}
	defer rows.Close()

	return scanAudits(rows)
}

// ListMissingLedger retrieves completed audits without a ledger transaction
// id, oldest first, for out-of-band reconciliation.
func (s *AuditStore) ListMissingLedger(ctx context.Context, limit int) ([]*domain.CompletionAuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM completion_audits
		WHERE status = $1 AND ledger_transaction_id IS NULL
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, domain.AuditStatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("list audits missing ledger id: %w", err)
	}
	defer rows.Close()

	return scanAudits(rows)
}

// scanAudit scans a single audit row.
func scanAudit(row pgx.Row) (*domain.CompletionAuditRecord, error) {
	var a domain.CompletionAuditRecord

	err := row.Scan(
		&a.ID,
		&a.ProposalID,
		&a.TransactionID,
		&a.LedgerTransactionID,
		&a.AffectedSwaps,
		&a.AffectedBookings,
		&a.Status,
		&a.ErrorDetails,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// scanAudits scans multiple rows into a slice of CompletionAuditRecord.
func scanAudits(rows pgx.Rows) ([]*domain.CompletionAuditRecord, error) {
	var audits []*domain.CompletionAuditRecord

	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		audits = append(audits, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	return audits, nil
}
