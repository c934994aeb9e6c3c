package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// ProposalStore implements storage.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *Pool
}

// NewProposalStore creates a new ProposalStore.
func NewProposalStore(pool *Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ProposalStore = (*ProposalStore)(nil)

const proposalColumns = `
	id, source_swap_id, target_swap_id, proposer_id, target_user_id,
	kind, status, cash_amount, cash_currency, responded_at, responded_by,
	expires_at, created_at
`

// Insert adds a new proposal in pending status.
func (s *ProposalStore) Insert(ctx context.Context, p *domain.Proposal) error {
	query := `
		INSERT INTO proposals (
			id, source_swap_id, target_swap_id, proposer_id, target_user_id,
			kind, status, cash_amount, cash_currency, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID,
		p.SourceSwapID,
		p.TargetSwapID,
		p.ProposerID,
		p.TargetUserID,
		p.Kind,
		p.Status,
		p.CashAmount,
		p.CashCurrency,
		p.ExpiresAt,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// GetByID retrieves a proposal by id. Returns ErrNotFound if not exists.
func (s *ProposalStore) GetByID(ctx context.Context, id string) (*domain.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`

	p, err := scanProposal(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get proposal by id: %w", err)
	}
	return p, nil
}

// Exists reports whether a proposal with the id exists.
func (s *ProposalStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM proposals WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("proposal exists: %w", err)
	}
	return exists, nil
}

// MarkRejected transitions a pending proposal to rejected under a row lock.
// Returns ErrProposalNotPending if a concurrent attempt already resolved it.
func (s *ProposalStore) MarkRejected(ctx context.Context, id, respondedBy string, respondedAtMs int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM proposals WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("lock proposal: %w", err)
	}
	if status != domain.ProposalStatusPending {
		return storage.ErrProposalNotPending
	}

	tag, err := tx.Exec(ctx, `
		UPDATE proposals
		SET status = $2, responded_at = $3, responded_by = $4
		WHERE id = $1
	`, id, domain.ProposalStatusRejected, respondedAtMs, respondedBy)
	if err != nil {
		return fmt.Errorf("reject proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNoRowsAffected
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ExpirePending marks pending proposals whose expiry passed as expired.
func (s *ProposalStore) ExpirePending(ctx context.Context, nowMs int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE proposals
		SET status = $1
		WHERE status = $2 AND expires_at IS NOT NULL AND expires_at <= $3
	`, domain.ProposalStatusExpired, domain.ProposalStatusPending, nowMs)
	if err != nil {
		return 0, fmt.Errorf("expire pending proposals: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanProposal scans a single proposal row.
func scanProposal(row pgx.Row) (*domain.Proposal, error) {
	var p domain.Proposal

	err := row.Scan(
		&p.ID,
		&p.SourceSwapID,
		&p.TargetSwapID,
		&p.ProposerID,
		&p.TargetUserID,
		&p.Kind,
		&p.Status,
		&p.CashAmount,
		&p.CashCurrency,
		&p.RespondedAt,
		&p.RespondedBy,
		&p.ExpiresAt,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
