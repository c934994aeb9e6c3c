package memory

import (
	"context"
	"sync"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// BookingStore is an in-memory implementation of storage.BookingStore.
type BookingStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Booking
}

// NewBookingStore creates a new in-memory booking store.
func NewBookingStore() *BookingStore {
	return &BookingStore{data: make(map[string]*domain.Booking)}
}

// Compile-time interface check.
var _ storage.BookingStore = (*BookingStore)(nil)

// Insert adds a new booking.
func (s *BookingStore) Insert(_ context.Context, b *domain.Booking) error {
	if b == nil || b.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[b.ID] = copyBooking(b)
	return nil
}

// GetByID retrieves a booking by id.
func (s *BookingStore) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyBooking(b), nil
}

// Exists reports whether a booking with the id exists.
func (s *BookingStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[id]
	return ok, nil
}

// put replaces a booking unconditionally. Used by the memory TxManager.
func (s *BookingStore) put(b *domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[b.ID] = copyBooking(b)
}

func copyBooking(b *domain.Booking) *domain.Booking {
	cp := *b
	cp.RelatedBookingSwaps = append([]string(nil), b.RelatedBookingSwaps...)
	return &cp
}
