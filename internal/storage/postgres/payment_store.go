package postgres

import (
	"context"
	"fmt"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// PaymentStore implements storage.PaymentStore using PostgreSQL.
type PaymentStore struct {
	pool *Pool
}

// NewPaymentStore creates a new PaymentStore.
func NewPaymentStore(pool *Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PaymentStore = (*PaymentStore)(nil)

// Insert adds a new payment transaction.
func (s *PaymentStore) Insert(ctx context.Context, p *domain.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (
			id, proposal_id, payer_id, payee_id, amount, currency,
			gateway_ref, platform_fee, net_amount, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID,
		p.ProposalID,
		p.PayerID,
		p.PayeeID,
		p.Amount,
		p.Currency,
		p.GatewayRef,
		p.PlatformFee,
		p.NetAmount,
		p.Status,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a payment transaction by id.
func (s *PaymentStore) GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	query := `
		SELECT id, proposal_id, payer_id, payee_id, amount, currency,
			gateway_ref, platform_fee, net_amount, status, created_at
		FROM payment_transactions
		WHERE id = $1
	`

	var p domain.PaymentTransaction
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.ProposalID,
		&p.PayerID,
		&p.PayeeID,
		&p.Amount,
		&p.Currency,
		&p.GatewayRef,
		&p.PlatformFee,
		&p.NetAmount,
		&p.Status,
		&p.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get payment transaction by id: %w", err)
	}
	return &p, nil
}

// UpdateStatus transitions a payment transaction's status.
func (s *PaymentStore) UpdateStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE payment_transactions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
