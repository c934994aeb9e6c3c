package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// Corrector implements storage.Corrector using PostgreSQL. All corrections
// of a batch run in one transaction: a failure reports the entire batch
// failed, never a partial application.
type Corrector struct {
	pool *Pool
}

// NewCorrector creates a new Corrector.
func NewCorrector(pool *Pool) *Corrector {
	return &Corrector{pool: pool}
}

// Compile-time interface check.
var _ storage.Corrector = (*Corrector)(nil)

// ApplyStatusCorrections forces the expected terminal status onto each
// entity. The status guard makes the operation idempotent: an entity already
// in the expected status is not written again.
func (c *Corrector) ApplyStatusCorrections(ctx context.Context, corrections []domain.StatusCorrection) error {
	if len(corrections) == 0 {
		return nil
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin correction transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, corr := range corrections {
		if err := applyCorrection(ctx, tx, corr); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit correction transaction: %w", err)
	}
	return nil
}

func applyCorrection(ctx context.Context, tx pgx.Tx, corr domain.StatusCorrection) error {
	switch corr.EntityType {
	case domain.EntityTypeSwap:
		_, err := tx.Exec(ctx, `
			UPDATE swaps
			SET status = $2, completed_at = $3,
				completion_transaction_id = COALESCE(completion_transaction_id, $4)
			WHERE id = $1 AND status <> $2
		`, corr.EntityID, corr.ExpectedStatus, corr.Timestamp, nullable(corr.TransactionID))
		if err != nil {
			return fmt.Errorf("correct swap %s: %w", corr.EntityID, err)
		}
	case domain.EntityTypeBooking:
		_, err := tx.Exec(ctx, `
			UPDATE bookings
			SET status = $2, swapped_at = $3,
				swap_transaction_id = COALESCE(swap_transaction_id, $4)
			WHERE id = $1 AND status <> $2
		`, corr.EntityID, corr.ExpectedStatus, corr.Timestamp, nullable(corr.TransactionID))
		if err != nil {
			return fmt.Errorf("correct booking %s: %w", corr.EntityID, err)
		}
	case domain.EntityTypeProposal:
		_, err := tx.Exec(ctx, `
			UPDATE proposals
			SET status = $2, responded_at = COALESCE(responded_at, $3)
			WHERE id = $1 AND status <> $2
		`, corr.EntityID, corr.ExpectedStatus, corr.Timestamp)
		if err != nil {
			return fmt.Errorf("correct proposal %s: %w", corr.EntityID, err)
		}
	default:
		return fmt.Errorf("correct %s: %w", corr.EntityID, storage.ErrInvalidInput)
	}
	return nil
}

// nullable maps an empty string to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
