// Package payment provides the payment gateway client for the cash leg of a
// completion. The gateway is non-transactional relative to the relational
// store: a captured charge is compensated by a refund, never by rollback.
package payment

import (
	"context"

	"bookswap/internal/domain"
)

// ChargeRequest describes one cash-leg charge.
type ChargeRequest struct {
	ProposalID string
	PayerID    string
	PayeeID    string
	Amount     int64 // minor units
	Currency   string
}

// Client charges and reverses funds at the payment gateway.
type Client interface {
	// Charge captures the cash amount from the payer. On success it returns
	// the recorded payment transaction including the gateway reference
	// needed for reversal.
	Charge(ctx context.Context, req ChargeRequest) (*domain.PaymentTransaction, error)

	// Reverse refunds a previously captured charge in full.
	Reverse(ctx context.Context, gatewayRef string) error
}

// ComputeFee returns the platform fee for an amount at the given basis
// points, rounding down.
func ComputeFee(amount, feeBps int64) int64 {
	if amount <= 0 || feeBps <= 0 {
		return 0
	}
	return amount * feeBps / 10000
}
