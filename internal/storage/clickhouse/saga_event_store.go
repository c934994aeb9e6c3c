package clickhouse

import (
	"context"
	"fmt"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// SagaEventStore implements storage.SagaEventStore using ClickHouse.
// Saga phase transitions are append-only analytics rows; they never feed back
// into saga decisions.
type SagaEventStore struct {
	conn *Conn
}

// NewSagaEventStore creates a new SagaEventStore.
func NewSagaEventStore(conn *Conn) *SagaEventStore {
	return &SagaEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SagaEventStore = (*SagaEventStore)(nil)

// Insert appends one saga event.
func (s *SagaEventStore) Insert(ctx context.Context, e *domain.SagaEvent) error {
	query := `
		INSERT INTO saga_events (
			run_id, proposal_id, transaction_id, phase, outcome, error_code, duration_ms, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		e.RunID,
		e.ProposalID,
		e.TransactionID,
		e.Phase,
		e.Outcome,
		e.ErrorCode,
		e.DurationMs,
		e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert saga event: %w", err)
	}
	return nil
}
