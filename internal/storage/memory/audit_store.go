package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// AuditStore is an in-memory implementation of storage.AuditStore.
type AuditStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CompletionAuditRecord // keyed by id
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{data: make(map[string]*domain.CompletionAuditRecord)}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// Insert adds a new audit record.
func (s *AuditStore) Insert(_ context.Context, a *domain.CompletionAuditRecord) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[a.ID] = copyAudit(a)
	return nil
}

// UpdateStatus transitions an audit record and records error details.
func (s *AuditStore) UpdateStatus(_ context.Context, id, status string, errorDetails *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.Status = status
	a.ErrorDetails = errorDetails
	a.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// SetLedgerTransactionID records the confirmed ledger event id.
func (s *AuditStore) SetLedgerTransactionID(_ context.Context, id, ledgerTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.LedgerTransactionID = &ledgerTxID
	a.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// GetByTransactionID retrieves the audit record for one saga run.
func (s *AuditStore) GetByTransactionID(_ context.Context, transactionID string) (*domain.CompletionAuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.data {
		if a.TransactionID == transactionID {
			return copyAudit(a), nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetByProposalID retrieves all audit records for a proposal, newest first.
func (s *AuditStore) GetByProposalID(_ context.Context, proposalID string) ([]*domain.CompletionAuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var audits []*domain.CompletionAuditRecord
	for _, a := range s.data {
		if a.ProposalID == proposalID {
			audits = append(audits, copyAudit(a))
		}
	}
	sort.Slice(audits, func(i, j int) bool { return audits[i].CreatedAt > audits[j].CreatedAt })
	return audits, nil
}

// ListMissingLedger retrieves completed audits without a ledger transaction id.
func (s *AuditStore) ListMissingLedger(_ context.Context, limit int) ([]*domain.CompletionAuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var audits []*domain.CompletionAuditRecord
	for _, a := range s.data {
		if a.Status == domain.AuditStatusCompleted && a.LedgerTransactionID == nil {
			audits = append(audits, copyAudit(a))
		}
	}
	sort.Slice(audits, func(i, j int) bool { return audits[i].CreatedAt < audits[j].CreatedAt })
	if limit > 0 && len(audits) > limit {
		audits = audits[:limit]
	}
	return audits, nil
}

func copyAudit(a *domain.CompletionAuditRecord) *domain.CompletionAuditRecord {
	cp := *a
	cp.AffectedSwaps = append([]string(nil), a.AffectedSwaps...)
	cp.AffectedBookings = append([]string(nil), a.AffectedBookings...)
	return &cp
}
