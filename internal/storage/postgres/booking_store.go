package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// BookingStore implements storage.BookingStore using PostgreSQL.
type BookingStore struct {
	pool *Pool
}

// NewBookingStore creates a new BookingStore.
func NewBookingStore(pool *Pool) *BookingStore {
	return &BookingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BookingStore = (*BookingStore)(nil)

const bookingColumns = `
	id, owner_id, status, check_in_date, swapped_at,
	swap_transaction_id, original_owner_id, related_booking_swaps, created_at
`

// Insert adds a new booking.
func (s *BookingStore) Insert(ctx context.Context, b *domain.Booking) error {
	query := `
		INSERT INTO bookings (
			id, owner_id, status, check_in_date, related_booking_swaps, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	related := b.RelatedBookingSwaps
	if related == nil {
		related = []string{}
	}

	_, err := s.pool.Exec(ctx, query,
		b.ID,
		b.OwnerID,
		b.Status,
		b.CheckInDate,
		related,
		b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// GetByID retrieves a booking by id. Returns ErrNotFound if not exists.
func (s *BookingStore) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}
	return b, nil
}

// Exists reports whether a booking with the id exists.
func (s *BookingStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("booking exists: %w", err)
	}
	return exists, nil
}

// scanBooking scans a single booking row.
func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking

	err := row.Scan(
		&b.ID,
		&b.OwnerID,
		&b.Status,
		&b.CheckInDate,
		&b.SwappedAt,
		&b.SwapTransactionID,
		&b.OriginalOwnerID,
		&b.RelatedBookingSwaps,
		&b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
