// Package stub provides an in-memory payment client for tests.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bookswap/internal/domain"
	"bookswap/internal/faults"
	"bookswap/internal/payment"
)

// Gateway is an in-memory payment.Client with failure injection.
type Gateway struct {
	mu        sync.Mutex
	charges   []*domain.PaymentTransaction
	reversals []string
	nextRef   int
	feeBps    int64

	// FailCharge makes the next Charge call fail with the given error.
	FailCharge error
	// FailReverse makes the next Reverse call fail with the given error.
	FailReverse error
}

// New creates a new stub gateway with the given platform fee.
func New(feeBps int64) *Gateway {
	return &Gateway{feeBps: feeBps}
}

// Compile-time interface check.
var _ payment.Client = (*Gateway)(nil)

// Charge records a captured charge.
func (g *Gateway) Charge(_ context.Context, req payment.ChargeRequest) (*domain.PaymentTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.FailCharge; err != nil {
		g.FailCharge = nil
		return nil, faults.Wrap(faults.CategoryPayment, faults.CodePaymentFailed, "gateway charge failed", err)
	}

	g.nextRef++
	fee := payment.ComputeFee(req.Amount, g.feeBps)
	tx := &domain.PaymentTransaction{
		ID:          fmt.Sprintf("pay-%d", g.nextRef),
		ProposalID:  req.ProposalID,
		PayerID:     req.PayerID,
		PayeeID:     req.PayeeID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		GatewayRef:  fmt.Sprintf("chrg-%d", g.nextRef),
		PlatformFee: fee,
		NetAmount:   req.Amount - fee,
		Status:      domain.PaymentStatusCaptured,
		CreatedAt:   time.Now().UnixMilli(),
	}
	cp := *tx
	g.charges = append(g.charges, &cp)
	return tx, nil
}

// Reverse records a refund of a previously captured charge.
func (g *Gateway) Reverse(_ context.Context, gatewayRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.FailReverse; err != nil {
		g.FailReverse = nil
		return faults.Wrap(faults.CategoryPayment, faults.CodePaymentReversalFailed, "gateway refund failed", err)
	}

	g.reversals = append(g.reversals, gatewayRef)
	return nil
}

// Charges returns all captured charges in order.
func (g *Gateway) Charges() []*domain.PaymentTransaction {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*domain.PaymentTransaction, len(g.charges))
	for i, c := range g.charges {
		cp := *c
		out[i] = &cp
	}
	return out
}

// Reversals returns the gateway refs of all reversed charges in order.
func (g *Gateway) Reversals() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, len(g.reversals))
	copy(out, g.reversals)
	return out
}
