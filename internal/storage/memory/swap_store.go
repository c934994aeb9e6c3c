package memory

import (
	"context"
	"sync"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// SwapStore is an in-memory implementation of storage.SwapStore.
type SwapStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Swap
}

// NewSwapStore creates a new in-memory swap store.
func NewSwapStore() *SwapStore {
	return &SwapStore{data: make(map[string]*domain.Swap)}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

// Insert adds a new swap.
func (s *SwapStore) Insert(_ context.Context, swap *domain.Swap) error {
	if swap == nil || swap.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copySwap(swap)
	s.data[swap.ID] = cp
	return nil
}

// GetByID retrieves a swap by id.
func (s *SwapStore) GetByID(_ context.Context, id string) (*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	swap, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySwap(swap), nil
}

// Exists reports whether a swap with the id exists.
func (s *SwapStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[id]
	return ok, nil
}

// put replaces a swap unconditionally. Used by the memory TxManager.
func (s *SwapStore) put(swap *domain.Swap) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[swap.ID] = copySwap(swap)
}

func copySwap(s *domain.Swap) *domain.Swap {
	cp := *s
	cp.RelatedSwapCompletions = append([]string(nil), s.RelatedSwapCompletions...)
	return &cp
}
