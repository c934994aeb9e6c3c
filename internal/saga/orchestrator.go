// Package saga orchestrates the completion of a booking swap: one accepted
// proposal atomically transitions its swaps and bookings, records the
// outcome on the external ledger, charges the cash leg when there is one,
// and verifies the persisted state afterwards. Failures after the database
// commit are compensated; a ledger append failure alone is not, because
// ledger writes are reconciled out of band.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bookswap/internal/domain"
	"bookswap/internal/faults"
	"bookswap/internal/idhash"
	"bookswap/internal/ledger"
	"bookswap/internal/notify"
	"bookswap/internal/observability"
	"bookswap/internal/payment"
	"bookswap/internal/rollback"
	"bookswap/internal/storage"
	"bookswap/internal/validation"
)

// Orchestrator phase names, recorded on saga events and phase metrics.
const (
	PhaseValidating  = "validating"
	PhaseCommitting  = "committing"
	PhaseLedger      = "recording_ledger"
	PhasePayment     = "processing_payment"
	PhaseVerifying   = "verifying_post_state"
	PhaseCompleted   = "completed"
	PhaseRollingBack = "rolling_back"
)

// Options configures an Orchestrator.
type Options struct {
	Proposals  storage.ProposalStore
	Swaps      storage.SwapStore
	Bookings   storage.BookingStore
	Payments   storage.PaymentStore
	Audits     storage.AuditStore
	SagaEvents storage.SagaEventStore // optional
	TxManager  storage.TransactionManager
	Corrector  storage.Corrector
	Validator  *validation.Validator
	Ledger     ledger.Client
	Gateway    payment.Client // optional when no cash proposals are served
	Rollback   *rollback.Manager
	Publisher  notify.Publisher       // optional
	Metrics    *observability.Metrics // optional
	Logger     zerolog.Logger
}

// Orchestrator drives completion runs. Safe for concurrent use; concurrent
// accepts of the same proposal serialize on the proposal row lock inside the
// transaction manager.
type Orchestrator struct {
	proposals  storage.ProposalStore
	swaps      storage.SwapStore
	bookings   storage.BookingStore
	payments   storage.PaymentStore
	audits     storage.AuditStore
	sagaEvents storage.SagaEventStore
	txm        storage.TransactionManager
	corrector  storage.Corrector
	validator  *validation.Validator
	ledger     ledger.Client
	gateway    payment.Client
	rollback   *rollback.Manager
	publisher  notify.Publisher
	metrics    *observability.Metrics
	logger     zerolog.Logger
	now        func() int64
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	return &Orchestrator{
		proposals:  opts.Proposals,
		swaps:      opts.Swaps,
		bookings:   opts.Bookings,
		payments:   opts.Payments,
		audits:     opts.Audits,
		sagaEvents: opts.SagaEvents,
		txm:        opts.TxManager,
		corrector:  opts.Corrector,
		validator:  opts.Validator,
		ledger:     opts.Ledger,
		gateway:    opts.Gateway,
		rollback:   opts.Rollback,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

type nopPublisher struct{}

func (nopPublisher) PublishJSON(context.Context, string, any) error { return nil }

// RejectProposal transitions a pending proposal to rejected. Only the target
// user may reject. The rejection is recorded on the ledger best-effort and
// the parties are notified.
func (o *Orchestrator) RejectProposal(ctx context.Context, proposalID, userID string) error {
	proposal, err := o.loadProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.TargetUserID != userID {
		return faults.New(faults.CategoryBusiness, faults.CodeNotAuthorized,
			"only the proposal target may reject").
			WithContext("proposal_id", proposalID).
			WithContext("user_id", userID)
	}

	respondedAt := o.now()
	if err := o.proposals.MarkRejected(ctx, proposalID, userID, respondedAt); err != nil {
		if errors.Is(err, storage.ErrProposalNotPending) {
			return faults.Wrap(faults.CategoryBusiness, faults.CodeProposalNotPending,
				"proposal is no longer pending", err).
				WithContext("proposal_id", proposalID)
		}
		return faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
			"reject proposal", err).
			WithContext("proposal_id", proposalID)
	}

	txID := idhash.ComputeTransactionID(proposalID, userID, respondedAt)
	payload := ledger.EventPayload{
		TransactionID: txID,
		ProposalID:    proposalID,
		RespondedBy:   userID,
		RespondedAt:   respondedAt,
	}
	key := idhash.IdempotencyKey(txID, ledger.EventProposalRejected)
	if _, err := o.ledger.Append(ctx, ledger.EventProposalRejected, payload, key); err != nil {
		// the relational state is authoritative for rejections; the append is
		// advisory and reconciled from audit tooling if it matters
		o.logger.Warn().Err(err).
			Str("proposal_id", proposalID).
			Msg("ledger append for rejection failed")
	}

	ev := notify.NewEvent(notify.TypeProposalRejected, proposalID)
	ev.Recipients = []string{proposal.ProposerID, proposal.TargetUserID}
	if err := o.publisher.PublishJSON(ctx, ev.Type, ev); err != nil {
		o.logger.Warn().Err(err).Str("proposal_id", proposalID).Msg("rejection notification failed")
	}

	if o.metrics != nil {
		o.metrics.ProposalsRejected.Inc()
	}
	o.logger.Info().
		Str("proposal_id", proposalID).
		Str("user_id", userID).
		Msg("proposal rejected")
	return nil
}

// ExpirePendingProposals sweeps pending proposals whose expiry has passed.
func (o *Orchestrator) ExpirePendingProposals(ctx context.Context) (int64, error) {
	n, err := o.proposals.ExpirePending(ctx, o.now())
	if err != nil {
		return 0, faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
			"expire pending proposals", err)
	}
	if o.metrics != nil && n > 0 {
		o.metrics.ProposalsExpired.Add(float64(n))
	}
	return n, nil
}

func (o *Orchestrator) loadProposal(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	proposal, err := o.proposals.GetByID(ctx, proposalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, faults.Wrap(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
				"proposal not found", err).
				WithContext("proposal_id", proposalID)
		}
		return nil, faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
			"load proposal", err).
			WithContext("proposal_id", proposalID)
	}
	return proposal, nil
}

// emit records one phase transition on the analytics store. Append failures
// are logged, never surfaced.
func (o *Orchestrator) emit(ctx context.Context, runID, proposalID, txID, phase, outcome, errCode string, started time.Time) {
	elapsed := time.Since(started)
	if o.metrics != nil {
		o.metrics.PhaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
	}
	if o.sagaEvents == nil {
		return
	}
	err := o.sagaEvents.Insert(ctx, &domain.SagaEvent{
		RunID:         runID,
		ProposalID:    proposalID,
		TransactionID: txID,
		Phase:         phase,
		Outcome:       outcome,
		ErrorCode:     errCode,
		DurationMs:    elapsed.Milliseconds(),
		Timestamp:     o.now(),
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("phase", phase).Msg("saga event append failed")
	}
}

// encodeError serializes a fault for the audit row's error_details column.
func encodeError(fe *faults.Error) *string {
	payload := map[string]any{
		"category": fe.Category,
		"code":     fe.Code,
		"message":  fe.Message,
	}
	if len(fe.Context) > 0 {
		payload["context"] = fe.Context
	}
	if fe.ManualIntervention {
		payload["manual_intervention"] = true
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s := fe.Error()
		return &s
	}
	s := string(b)
	return &s
}

func newRunID() string { return uuid.NewString() }
