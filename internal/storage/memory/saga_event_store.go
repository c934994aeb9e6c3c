package memory

import (
	"context"
	"sync"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// SagaEventStore is an in-memory implementation of storage.SagaEventStore.
type SagaEventStore struct {
	mu     sync.RWMutex
	events []*domain.SagaEvent
}

// NewSagaEventStore creates a new in-memory saga event store.
func NewSagaEventStore() *SagaEventStore {
	return &SagaEventStore{}
}

// Compile-time interface check.
var _ storage.SagaEventStore = (*SagaEventStore)(nil)

// Insert appends one saga event.
func (s *SagaEventStore) Insert(_ context.Context, e *domain.SagaEvent) error {
	if e == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

// Events returns a snapshot of all recorded events in append order.
func (s *SagaEventStore) Events() []*domain.SagaEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.SagaEvent, len(s.events))
	for i, e := range s.events {
		cp := *e
		out[i] = &cp
	}
	return out
}
