package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// SwapStore implements storage.SwapStore using PostgreSQL.
type SwapStore struct {
	pool *Pool
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(pool *Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

const swapColumns = `
	id, owner_id, booking_id, status, completed_at,
	completion_transaction_id, ledger_completion_id, related_swap_completions, created_at
`

// Insert adds a new swap.
func (s *SwapStore) Insert(ctx context.Context, swap *domain.Swap) error {
	query := `
		INSERT INTO swaps (
			id, owner_id, booking_id, status, related_swap_completions, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	related := swap.RelatedSwapCompletions
	if related == nil {
		related = []string{}
	}

	_, err := s.pool.Exec(ctx, query,
		swap.ID,
		swap.OwnerID,
		swap.BookingID,
		swap.Status,
		related,
		swap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert swap: %w", err)
	}
	return nil
}

// GetByID retrieves a swap by id. Returns ErrNotFound if not exists.
func (s *SwapStore) GetByID(ctx context.Context, id string) (*domain.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE id = $1`

	swap, err := scanSwap(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get swap by id: %w", err)
	}
	return swap, nil
}

// Exists reports whether a swap with the id exists.
func (s *SwapStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM swaps WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("swap exists: %w", err)
	}
	return exists, nil
}

// scanSwap scans a single swap row.
func scanSwap(row pgx.Row) (*domain.Swap, error) {
	var swap domain.Swap

	err := row.Scan(
		&swap.ID,
		&swap.OwnerID,
		&swap.BookingID,
		&swap.Status,
		&swap.CompletedAt,
		&swap.CompletionTransactionID,
		&swap.LedgerCompletionID,
		&swap.RelatedSwapCompletions,
		&swap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &swap, nil
}
