package memory

import (
	"context"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// Corrector is an in-memory implementation of storage.Corrector. The batch
// is validated before any write so a failure leaves nothing applied,
// matching the transactional Postgres behavior.
type Corrector struct {
	proposals *ProposalStore
	swaps     *SwapStore
	bookings  *BookingStore

	// FailNext injects an error for the next call, for tests.
	FailNext error

	// Writes counts corrections that actually changed a status.
	Writes int
}

// NewCorrector creates a new in-memory Corrector over the given stores.
func NewCorrector(proposals *ProposalStore, swaps *SwapStore, bookings *BookingStore) *Corrector {
	return &Corrector{proposals: proposals, swaps: swaps, bookings: bookings}
}

// Compile-time interface check.
var _ storage.Corrector = (*Corrector)(nil)

// ApplyStatusCorrections forces the expected terminal status onto each entity.
func (c *Corrector) ApplyStatusCorrections(ctx context.Context, corrections []domain.StatusCorrection) error {
	if err := c.FailNext; err != nil {
		c.FailNext = nil
		return err
	}

	// Validate the whole batch first.
	for _, corr := range corrections {
		switch corr.EntityType {
		case domain.EntityTypeSwap:
			if _, err := c.swaps.GetByID(ctx, corr.EntityID); err != nil {
				return err
			}
		case domain.EntityTypeBooking:
			if _, err := c.bookings.GetByID(ctx, corr.EntityID); err != nil {
				return err
			}
		case domain.EntityTypeProposal:
			if _, err := c.proposals.GetByID(ctx, corr.EntityID); err != nil {
				return err
			}
		default:
			return storage.ErrInvalidInput
		}
	}

	for _, corr := range corrections {
		switch corr.EntityType {
		case domain.EntityTypeSwap:
			swap, _ := c.swaps.GetByID(ctx, corr.EntityID)
			if swap.Status == corr.ExpectedStatus {
				continue
			}
			ts := corr.Timestamp
			swap.Status = corr.ExpectedStatus
			swap.CompletedAt = &ts
			if swap.CompletionTransactionID == nil && corr.TransactionID != "" {
				txID := corr.TransactionID
				swap.CompletionTransactionID = &txID
			}
			c.swaps.put(swap)
			c.Writes++
		case domain.EntityTypeBooking:
			b, _ := c.bookings.GetByID(ctx, corr.EntityID)
			if b.Status == corr.ExpectedStatus {
				continue
			}
			ts := corr.Timestamp
			b.Status = corr.ExpectedStatus
			b.SwappedAt = &ts
			if b.SwapTransactionID == nil && corr.TransactionID != "" {
				txID := corr.TransactionID
				b.SwapTransactionID = &txID
			}
			c.bookings.put(b)
			c.Writes++
		case domain.EntityTypeProposal:
			p, _ := c.proposals.GetByID(ctx, corr.EntityID)
			if p.Status == corr.ExpectedStatus {
				continue
			}
			p.Status = corr.ExpectedStatus
			if p.RespondedAt == nil {
				ts := corr.Timestamp
				p.RespondedAt = &ts
			}
			c.proposals.put(p)
			c.Writes++
		}
	}
	return nil
}
