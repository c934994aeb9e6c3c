package memory

import (
	"context"
	"sync"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// PaymentStore is an in-memory implementation of storage.PaymentStore.
type PaymentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PaymentTransaction
}

// NewPaymentStore creates a new in-memory payment store.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{data: make(map[string]*domain.PaymentTransaction)}
}

// Compile-time interface check.
var _ storage.PaymentStore = (*PaymentStore)(nil)

// Insert adds a new payment transaction.
func (s *PaymentStore) Insert(_ context.Context, p *domain.PaymentTransaction) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.data[p.ID] = &cp
	return nil
}

// GetByID retrieves a payment transaction by id.
func (s *PaymentStore) GetByID(_ context.Context, id string) (*domain.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// UpdateStatus transitions a payment transaction's status.
func (s *PaymentStore) UpdateStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.Status = status
	return nil
}
