package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"bookswap/internal/domain"
	"bookswap/internal/faults"
)

// CustomerResolver maps platform user ids to gateway customer ids with a
// stored payment method.
type CustomerResolver interface {
	CustomerFor(ctx context.Context, userID string) (string, error)
}

// PrefixResolver derives the gateway customer id by prefixing the user id,
// matching how customers are registered at signup.
type PrefixResolver struct {
	Prefix string
}

// CustomerFor returns the prefixed customer id.
func (r PrefixResolver) CustomerFor(_ context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("empty user id")
	}
	return r.Prefix + userID, nil
}

// OmiseGateway implements Client using the Omise API.
type OmiseGateway struct {
	client     *omise.Client
	customers  CustomerResolver
	feeBps     int64
	attempts   uint
	retryDelay time.Duration
}

// NewOmiseGateway creates a new gateway. feeBps is the platform fee in basis
// points applied to every charge.
func NewOmiseGateway(publicKey, secretKey string, customers CustomerResolver, feeBps int64) (*OmiseGateway, error) {
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("create omise client: %w", err)
	}
	return &OmiseGateway{
		client:     client,
		customers:  customers,
		feeBps:     feeBps,
		attempts:   3,
		retryDelay: 500 * time.Millisecond,
	}, nil
}

// Compile-time interface check.
var _ Client = (*OmiseGateway)(nil)

// Charge captures the cash amount from the payer's stored payment method.
// Transport failures are retried; a declined charge is final.
func (g *OmiseGateway) Charge(ctx context.Context, req ChargeRequest) (*domain.PaymentTransaction, error) {
	if req.Amount <= 0 || req.Currency == "" {
		return nil, faults.New(faults.CategoryValidation, faults.CodePaymentFailed,
			"charge requires a positive amount and a currency").
			WithContext("proposal_id", req.ProposalID)
	}

	customerID, err := g.customers.CustomerFor(ctx, req.PayerID)
	if err != nil {
		return nil, faults.Wrap(faults.CategoryPayment, faults.CodePaymentFailed,
			"resolve payer customer", err).
			WithContext("proposal_id", req.ProposalID).
			WithContext("payer_id", req.PayerID)
	}

	var charge *omise.Charge
	err = retry.Do(
		func() error {
			ch := &omise.Charge{}
			op := &operations.CreateCharge{
				Amount:   req.Amount,
				Currency: req.Currency,
				Customer: customerID,
				Metadata: map[string]interface{}{
					"proposal_id": req.ProposalID,
					"payee_id":    req.PayeeID,
				},
			}
			if err := g.client.Do(ch, op); err != nil {
				return err
			}
			if string(ch.Status) == "failed" {
				msg := "charge declined"
				if ch.FailureMessage != nil {
					msg = *ch.FailureMessage
				}
				return retry.Unrecoverable(fmt.Errorf("%s", msg))
			}
			charge = ch
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(g.attempts),
		retry.Delay(g.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, faults.Wrap(faults.CategoryPayment, faults.CodePaymentFailed,
			"gateway charge failed", err).
			WithContext("proposal_id", req.ProposalID).
			WithContext("payer_id", req.PayerID)
	}

	fee := ComputeFee(req.Amount, g.feeBps)
	return &domain.PaymentTransaction{
		ID:          uuid.NewString(),
		ProposalID:  req.ProposalID,
		PayerID:     req.PayerID,
		PayeeID:     req.PayeeID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		GatewayRef:  charge.ID,
		PlatformFee: fee,
		NetAmount:   req.Amount - fee,
		Status:      domain.PaymentStatusCaptured,
		CreatedAt:   time.Now().UnixMilli(),
	}, nil
}

// Reverse refunds a captured charge in full.
func (g *OmiseGateway) Reverse(ctx context.Context, gatewayRef string) error {
	err := retry.Do(
		func() error {
			charge := &omise.Charge{}
			if err := g.client.Do(charge, &operations.RetrieveCharge{ChargeID: gatewayRef}); err != nil {
				return err
			}
			refund := &omise.Refund{}
			return g.client.Do(refund, &operations.CreateRefund{
				ChargeID: gatewayRef,
				Amount:   charge.Amount,
			})
		},
		retry.Context(ctx),
		retry.Attempts(g.attempts),
		retry.Delay(g.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return faults.Wrap(faults.CategoryPayment, faults.CodePaymentReversalFailed,
			"gateway refund failed", err).
			WithContext("gateway_ref", gatewayRef)
	}
	return nil
}
