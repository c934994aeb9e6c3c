package memory

import (
	"context"
	"sync"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// ProposalStore is an in-memory implementation of storage.ProposalStore.
type ProposalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Proposal
}

// NewProposalStore creates a new in-memory proposal store.
func NewProposalStore() *ProposalStore {
	return &ProposalStore{data: make(map[string]*domain.Proposal)}
}

// Compile-time interface check.
var _ storage.ProposalStore = (*ProposalStore)(nil)

// Insert adds a new proposal.
func (s *ProposalStore) Insert(_ context.Context, p *domain.Proposal) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.data[p.ID] = &cp
	return nil
}

// GetByID retrieves a proposal by id.
func (s *ProposalStore) GetByID(_ context.Context, id string) (*domain.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Exists reports whether a proposal with the id exists.
func (s *ProposalStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[id]
	return ok, nil
}

// MarkRejected transitions a pending proposal to rejected.
func (s *ProposalStore) MarkRejected(_ context.Context, id, respondedBy string, respondedAtMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	if p.Status != domain.ProposalStatusPending {
		return storage.ErrProposalNotPending
	}

	p.Status = domain.ProposalStatusRejected
	p.RespondedAt = &respondedAtMs
	p.RespondedBy = &respondedBy
	return nil
}

// ExpirePending marks pending proposals whose expiry passed as expired.
func (s *ProposalStore) ExpirePending(_ context.Context, nowMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, p := range s.data {
		if p.Status == domain.ProposalStatusPending && p.ExpiresAt != nil && *p.ExpiresAt <= nowMs {
			p.Status = domain.ProposalStatusExpired
			n++
		}
	}
	return n, nil
}

// put replaces a proposal unconditionally. Used by the memory TxManager.
func (s *ProposalStore) put(p *domain.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.data[p.ID] = &cp
}
