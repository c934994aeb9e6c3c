package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bookswap/internal/domain"
	"bookswap/internal/faults"
	"bookswap/internal/idhash"
	"bookswap/internal/ledger"
	"bookswap/internal/notify"
	"bookswap/internal/payment"
	"bookswap/internal/rollback"
	"bookswap/internal/storage"
	"bookswap/internal/validation"
)

// AcceptResult is the outcome of a successful completion run.
type AcceptResult struct {
	RunID         string
	TransactionID string
	LedgerEventID string // empty when the append failed and awaits reconciliation
	Payment       *domain.PaymentTransaction
	Corrected     int // entities repaired by post-validation correction
	Warnings      []validation.Issue
}

// AcceptProposal runs the completion saga for one proposal. Only the target
// user may accept. On success every affected swap, booking and the proposal
// are in their terminal states, the outcome is recorded on the ledger, and a
// cash proposal has its charge captured. On failure after the database
// commit the applied side effects are compensated, except a ledger append
// failure, which is left for out-of-band reconciliation.
func (o *Orchestrator) AcceptProposal(ctx context.Context, proposalID, userID string) (*AcceptResult, error) {
	runID := newRunID()
	runStart := time.Now()

	proposal, err := o.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.TargetUserID != userID {
		return nil, faults.New(faults.CategoryBusiness, faults.CodeNotAuthorized,
			"only the proposal target may accept").
			WithContext("proposal_id", proposalID).
			WithContext("user_id", userID)
	}

	respondedAt := o.now()
	txID := idhash.ComputeTransactionID(proposalID, userID, respondedAt)
	logger := o.logger.With().
		Str("run_id", runID).
		Str("proposal_id", proposalID).
		Str("transaction_id", txID).
		Logger()

	// phase: validating
	phaseStart := time.Now()
	pre, err := o.validator.PreCompletion(ctx, proposal)
	if err != nil {
		o.emit(ctx, runID, proposalID, txID, PhaseValidating, domain.SagaOutcomeFailed, faults.CodeInternal, phaseStart)
		return nil, faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
			"pre-completion validation read failed", err).
			WithContext("proposal_id", proposalID)
	}
	o.countIssues(PhaseValidating, pre)
	if !pre.Valid() {
		fe := preValidationError(pre, proposalID)
		o.emit(ctx, runID, proposalID, txID, PhaseValidating, domain.SagaOutcomeFailed, fe.Code, phaseStart)
		return nil, fe
	}

	data, err := o.buildCompletionData(ctx, proposal, txID, userID, respondedAt)
	if err != nil {
		o.emit(ctx, runID, proposalID, txID, PhaseValidating, domain.SagaOutcomeFailed, faults.As(err).Code, phaseStart)
		return nil, err
	}
	o.emit(ctx, runID, proposalID, txID, PhaseValidating, domain.SagaOutcomeOK, "", phaseStart)

	audit := &domain.CompletionAuditRecord{
		ID:               uuid.NewString(),
		ProposalID:       proposalID,
		TransactionID:    txID,
		AffectedSwaps:    swapIDs(data),
		AffectedBookings: bookingIDs(data),
		Status:           domain.AuditStatusInProgress,
		CreatedAt:        o.now(),
		UpdatedAt:        o.now(),
	}
	if err := o.audits.Insert(ctx, audit); err != nil {
		return nil, faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
			"insert audit record", err).
			WithContext("proposal_id", proposalID)
	}

	outbox := notify.NewOutbox(o.publisher, logger)
	parties := []string{proposal.ProposerID, proposal.TargetUserID}

	// compensation steps accumulate in execution order; cleanup and
	// notification go first so they run last during an unwind
	steps := []domain.SagaStep{
		{Name: "run_cleanup", Type: domain.StepTypeCleanup, RollbackRequired: true},
		{
			Name: "notify_parties", Type: domain.StepTypeNotification, RollbackRequired: true,
			Notification: &domain.NotificationStepData{ProposalID: proposalID, UserIDs: parties},
		},
	}

	run := &acceptRun{
		runID:    runID,
		proposal: proposal,
		audit:    audit,
		data:     data,
		userID:   userID,
		outbox:   outbox,
		logger:   logger,
	}

	// phase: committing
	phaseStart = time.Now()
	result, err := o.txm.ExecuteCompletion(ctx, data)
	if err != nil {
		fe := faults.As(err)
		o.emit(ctx, runID, proposalID, txID, PhaseCommitting, domain.SagaOutcomeFailed, fe.Code, phaseStart)
		// nothing was applied; fail the run without compensation
		o.failAudit(ctx, audit.ID, domain.AuditStatusFailed, fe)
		o.finishRun(ctx, run, "failed", runStart)
		return nil, fe
	}
	steps = append(steps, domain.SagaStep{
		Name: "completion_transaction", Type: domain.StepTypeDatabase, RollbackRequired: true,
		DB: &domain.DBStepData{TransactionID: txID, Original: result.Original},
	})
	o.emit(ctx, runID, proposalID, txID, PhaseCommitting, domain.SagaOutcomeOK, "", phaseStart)

	// phase: recording_ledger
	phaseStart = time.Now()
	ledgerEventID := ""
	payload := ledger.EventPayload{
		TransactionID: txID,
		ProposalID:    proposalID,
		SwapIDs:       swapIDs(data),
		BookingIDs:    bookingIDs(data),
		RespondedBy:   userID,
		RespondedAt:   respondedAt,
	}
	key := idhash.IdempotencyKey(txID, ledger.EventCompletionRecorded)
	eventID, lerr := o.ledger.Append(ctx, ledger.EventCompletionRecorded, payload, key)
	if lerr != nil {
		// deliberate asymmetry: the database commit stands, the missing
		// ledger event is picked up by reconciliation over the audit table
		logger.Error().Err(lerr).Msg("ledger append failed after commit, leaving for reconciliation")
		if o.metrics != nil {
			o.metrics.LedgerAppends.WithLabelValues(ledger.EventCompletionRecorded, "failed").Inc()
		}
		o.emit(ctx, runID, proposalID, txID, PhaseLedger, domain.SagaOutcomeFailed, faults.As(lerr).Code, phaseStart)
	} else {
		ledgerEventID = eventID
		if err := o.audits.SetLedgerTransactionID(ctx, audit.ID, eventID); err != nil {
			logger.Warn().Err(err).Msg("recording ledger event id on audit failed")
		}
		steps = append(steps, domain.SagaStep{
			Name: "ledger_append", Type: domain.StepTypeLedger, RollbackRequired: true,
			Ledger: &domain.LedgerStepData{EventID: eventID, EventType: ledger.EventCompletionRecorded, TransactionID: txID},
		})
		if o.metrics != nil {
			o.metrics.LedgerAppends.WithLabelValues(ledger.EventCompletionRecorded, "ok").Inc()
		}
		o.emit(ctx, runID, proposalID, txID, PhaseLedger, domain.SagaOutcomeOK, "", phaseStart)
	}

	// phase: processing_payment (cash proposals only)
	var paymentTx *domain.PaymentTransaction
	if proposal.IsCash() {
		phaseStart = time.Now()
		paymentTx, err = o.chargeCashLeg(ctx, proposal, txID)
		if err != nil {
			fe := faults.As(err)
			if o.metrics != nil {
				o.metrics.PaymentCharges.WithLabelValues("failed").Inc()
			}
			o.emit(ctx, runID, proposalID, txID, PhasePayment, domain.SagaOutcomeFailed, fe.Code, phaseStart)
			return nil, o.unwind(ctx, run, steps, fe, runStart)
		}
		steps = append(steps, domain.SagaStep{
			Name: "payment_charge", Type: domain.StepTypePayment, RollbackRequired: true,
			Payment: &domain.PaymentStepData{PaymentID: paymentTx.ID, GatewayRef: paymentTx.GatewayRef},
		})
		if err := o.payments.Insert(ctx, paymentTx); err != nil {
			fe := faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
				"persist payment transaction", err).
				WithContext("payment_id", paymentTx.ID)
			o.emit(ctx, runID, proposalID, txID, PhasePayment, domain.SagaOutcomeFailed, fe.Code, phaseStart)
			return nil, o.unwind(ctx, run, steps, fe, runStart)
		}
		if o.metrics != nil {
			o.metrics.PaymentCharges.WithLabelValues("ok").Inc()
		}
		o.emit(ctx, runID, proposalID, txID, PhasePayment, domain.SagaOutcomeOK, "", phaseStart)
	} else {
		o.emit(ctx, runID, proposalID, txID, PhasePayment, domain.SagaOutcomeSkipped, "", time.Now())
	}

	// phase: verifying_post_state
	phaseStart = time.Now()
	corrected, warnings, err := o.verifyPostState(ctx, data)
	if err != nil {
		fe := faults.As(err)
		o.emit(ctx, runID, proposalID, txID, PhaseVerifying, domain.SagaOutcomeFailed, fe.Code, phaseStart)
		return nil, o.unwind(ctx, run, steps, fe, runStart)
	}
	for _, w := range warnings {
		logger.Warn().
			Str("issue", w.Code).
			Str("entity_type", w.EntityType).
			Str("entity_id", w.EntityID).
			Msg(w.Message)
	}
	o.emit(ctx, runID, proposalID, txID, PhaseVerifying, domain.SagaOutcomeOK, "", phaseStart)

	// terminal: completed
	if err := o.audits.UpdateStatus(ctx, audit.ID, domain.AuditStatusCompleted, nil); err != nil {
		logger.Warn().Err(err).Msg("marking audit completed failed")
	}

	ev := notify.NewEvent(notify.TypeCompletionSucceeded, proposalID)
	ev.TransactionID = txID
	ev.SwapIDs = swapIDs(data)
	ev.BookingIDs = bookingIDs(data)
	ev.Recipients = parties
	outbox.Add(ev)
	o.finishRun(ctx, run, "success", runStart)

	logger.Info().
		Str("kind", proposal.Kind).
		Int("corrected", corrected).
		Msg("completion run finished")

	return &AcceptResult{
		RunID:         runID,
		TransactionID: txID,
		LedgerEventID: ledgerEventID,
		Payment:       paymentTx,
		Corrected:     corrected,
		Warnings:      warnings,
	}, nil
}

// acceptRun bundles the run-scoped state shared by the failure paths.
type acceptRun struct {
	runID    string
	proposal *domain.Proposal
	audit    *domain.CompletionAuditRecord
	data     *domain.CompletionData
	userID   string
	outbox   *notify.Outbox
	logger   zerolog.Logger
}

// unwind compensates the applied steps and returns the terminal error for
// the caller.
func (o *Orchestrator) unwind(ctx context.Context, run *acceptRun, steps []domain.SagaStep, cause *faults.Error, runStart time.Time) error {
	phaseStart := time.Now()
	rb := o.rollback.Execute(ctx, rollback.Request{
		ProposalID: run.proposal.ID,
		Action:     domain.RollbackActionAccept,
		UserID:     run.userID,
		CauseCode:  cause.Code,
		Steps:      steps,
		Outbox:     run.outbox,
	})

	if o.metrics != nil {
		o.metrics.RollbackStepsFailed.Add(float64(len(rb.StepsFailed)))
		o.metrics.ActiveRollbacks.Set(float64(o.rollback.Active()))
	}

	ev := notify.NewEvent(notify.TypeCompletionFailed, run.proposal.ID)
	ev.TransactionID = run.data.TransactionID
	ev.Reason = cause.Code
	ev.Recipients = []string{run.proposal.ProposerID, run.proposal.TargetUserID}
	run.outbox.Add(ev)

	switch {
	case rb.ManualInterventionRequired:
		if o.metrics != nil {
			o.metrics.ManualInterventions.Inc()
			o.metrics.RollbacksTotal.WithLabelValues("manual_intervention").Inc()
		}
		fe := faults.Wrap(cause.Category, faults.CodeManualInterventionRequired,
			"completion failed and compensation needs an operator", cause).
			WithContext("proposal_id", run.proposal.ID).
			WithContext("rollback_run_id", rb.RunID)
		fe.ManualIntervention = true
		o.failAudit(ctx, run.audit.ID, domain.AuditStatusFailed, fe)
		o.emit(ctx, run.runID, run.proposal.ID, run.data.TransactionID, PhaseRollingBack, domain.SagaOutcomeFailed, fe.Code, phaseStart)
		o.finishRun(ctx, run, "manual_intervention", runStart)
		return fe

	case len(rb.StepsFailed) > 0:
		if o.metrics != nil {
			o.metrics.RollbacksTotal.WithLabelValues("failed").Inc()
		}
		fe := faults.Wrap(cause.Category, faults.CodeRollbackFailed,
			"completion failed and compensation did not fully unwind", cause).
			WithContext("proposal_id", run.proposal.ID).
			WithContext("rollback_run_id", rb.RunID)
		o.failAudit(ctx, run.audit.ID, domain.AuditStatusFailed, fe)
		o.emit(ctx, run.runID, run.proposal.ID, run.data.TransactionID, PhaseRollingBack, domain.SagaOutcomeFailed, fe.Code, phaseStart)
		o.finishRun(ctx, run, "rollback_failed", runStart)
		return fe

	default:
		if o.metrics != nil {
			o.metrics.RollbacksTotal.WithLabelValues("ok").Inc()
		}
		o.failAudit(ctx, run.audit.ID, domain.AuditStatusRolledBack, cause)
		o.emit(ctx, run.runID, run.proposal.ID, run.data.TransactionID, PhaseRollingBack, domain.SagaOutcomeOK, "", phaseStart)
		o.finishRun(ctx, run, "rolled_back", runStart)
		return cause.WithContext("rollback_run_id", rb.RunID)
	}
}

// verifyPostState runs post-completion validation, applies drift corrections
// once, and re-validates. A result that still fails after correction aborts
// the run.
func (o *Orchestrator) verifyPostState(ctx context.Context, data *domain.CompletionData) (int, []validation.Issue, error) {
	res, err := o.validator.PostCompletion(ctx, data)
	if err != nil {
		return 0, nil, faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
			"post-completion read failed", err)
	}
	o.countIssues(PhaseVerifying, res)
	if res.Valid() {
		return 0, res.Warnings(), nil
	}

	corrections := o.validator.Corrections(res, data)
	if len(corrections) == 0 || o.corrector == nil {
		return 0, nil, postValidationError(res, data.ProposalID)
	}

	if err := o.corrector.ApplyStatusCorrections(ctx, corrections); err != nil {
		if o.metrics != nil {
			o.metrics.CorrectionBatches.WithLabelValues("failed").Inc()
		}
		return 0, nil, faults.Wrap(faults.CategoryServer, faults.CodePostValidationFailed,
			"drift correction failed", err).
			WithContext("proposal_id", data.ProposalID)
	}
	if o.metrics != nil {
		o.metrics.CorrectionBatches.WithLabelValues("ok").Inc()
		o.metrics.DriftCorrections.Add(float64(len(corrections)))
	}

	res, err = o.validator.PostCompletion(ctx, data)
	if err != nil {
		return 0, nil, faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
			"post-correction read failed", err)
	}
	if !res.Valid() {
		return 0, nil, postValidationError(res, data.ProposalID)
	}
	return len(corrections), res.Warnings(), nil
}

func (o *Orchestrator) chargeCashLeg(ctx context.Context, proposal *domain.Proposal, txID string) (*domain.PaymentTransaction, error) {
	if o.gateway == nil {
		return nil, faults.New(faults.CategoryPayment, faults.CodePaymentFailed,
			"no payment gateway configured").
			WithContext("proposal_id", proposal.ID)
	}
	if proposal.CashAmount == nil || proposal.CashCurrency == nil {
		return nil, faults.New(faults.CategoryValidation, faults.CodePaymentFailed,
			"cash proposal is missing amount or currency").
			WithContext("proposal_id", proposal.ID)
	}
	tx, err := o.gateway.Charge(ctx, payment.ChargeRequest{
		ProposalID: proposal.ID,
		PayerID:    proposal.ProposerID,
		PayeeID:    proposal.TargetUserID,
		Amount:     *proposal.CashAmount,
		Currency:   *proposal.CashCurrency,
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// buildCompletionData resolves the proposal into the exact updates the
// completion transaction applies.
func (o *Orchestrator) buildCompletionData(ctx context.Context, proposal *domain.Proposal, txID, respondedBy string, respondedAt int64) (*domain.CompletionData, error) {
	return buildCompletionData(ctx, o.swaps, o.bookings, proposal, txID, respondedBy, respondedAt)
}

// ExpectedCompletion reconstructs the updates a completion run was expected
// to apply, from the accepted proposal and its recorded transaction id. It is
// the input for re-running post-completion validation out of band.
func ExpectedCompletion(ctx context.Context, swaps storage.SwapStore, bookings storage.BookingStore, proposal *domain.Proposal, transactionID string) (*domain.CompletionData, error) {
	if proposal.Status != domain.ProposalStatusAccepted || proposal.RespondedAt == nil || proposal.RespondedBy == nil {
		return nil, faults.New(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
			"proposal has no recorded acceptance").
			WithContext("proposal_id", proposal.ID)
	}
	return buildCompletionData(ctx, swaps, bookings, proposal, transactionID, *proposal.RespondedBy, *proposal.RespondedAt)
}

// buildCompletionData derives the swap and booking updates of one completion.
// A cash proposal transfers the target booking to the proposer; an exchange
// crosses ownership both ways and links the siblings.
func buildCompletionData(ctx context.Context, swaps storage.SwapStore, bookings storage.BookingStore, proposal *domain.Proposal, txID, respondedBy string, respondedAt int64) (*domain.CompletionData, error) {
	targetSwap, targetBooking, err := resolveSwapLeg(ctx, swaps, bookings, proposal.TargetSwapID)
	if err != nil {
		return nil, err
	}

	data := &domain.CompletionData{
		ProposalID:    proposal.ID,
		TransactionID: txID,
		RespondedBy:   respondedBy,
		RespondedAt:   respondedAt,
	}

	if proposal.IsCash() {
		data.SwapUpdates = []domain.SwapUpdate{{
			SwapID: targetSwap.ID, Status: domain.SwapStatusCompleted,
			CompletedAt: respondedAt, TransactionID: txID,
		}}
		data.BookingUpdates = []domain.BookingUpdate{{
			BookingID: targetBooking.ID, Status: domain.BookingStatusSwapped,
			NewOwnerID: proposal.ProposerID, SwappedAt: respondedAt, TransactionID: txID,
		}}
		return data, nil
	}

	sourceSwap, sourceBooking, err := resolveSwapLeg(ctx, swaps, bookings, *proposal.SourceSwapID)
	if err != nil {
		return nil, err
	}

	data.SwapUpdates = []domain.SwapUpdate{
		{
			SwapID: sourceSwap.ID, Status: domain.SwapStatusCompleted,
			CompletedAt: respondedAt, TransactionID: txID,
			RelatedSwapCompletions: []string{targetSwap.ID},
		},
		{
			SwapID: targetSwap.ID, Status: domain.SwapStatusCompleted,
			CompletedAt: respondedAt, TransactionID: txID,
			RelatedSwapCompletions: []string{sourceSwap.ID},
		},
	}
	data.BookingUpdates = []domain.BookingUpdate{
		{
			BookingID: sourceBooking.ID, Status: domain.BookingStatusSwapped,
			NewOwnerID: proposal.TargetUserID, SwappedAt: respondedAt, TransactionID: txID,
			RelatedBookingSwaps: []string{targetBooking.ID},
		},
		{
			BookingID: targetBooking.ID, Status: domain.BookingStatusSwapped,
			NewOwnerID: proposal.ProposerID, SwappedAt: respondedAt, TransactionID: txID,
			RelatedBookingSwaps: []string{sourceBooking.ID},
		},
	}
	return data, nil
}

func resolveSwapLeg(ctx context.Context, swaps storage.SwapStore, bookings storage.BookingStore, swapID string) (*domain.Swap, *domain.Booking, error) {
	swap, err := swaps.GetByID(ctx, swapID)
	if err != nil {
		return nil, nil, faults.Wrap(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
			"swap not found", err).
			WithContext("swap_id", swapID)
	}
	booking, err := bookings.GetByID(ctx, swap.BookingID)
	if err != nil {
		return nil, nil, faults.Wrap(faults.CategoryValidation, faults.CodeCompletionValidationFailed,
			"booking not found", err).
			WithContext("booking_id", swap.BookingID)
	}
	return swap, booking, nil
}

func (o *Orchestrator) failAudit(ctx context.Context, auditID, status string, fe *faults.Error) {
	if err := o.audits.UpdateStatus(ctx, auditID, status, encodeError(fe)); err != nil {
		o.logger.Warn().Err(err).Str("audit_id", auditID).Msg("updating audit status failed")
	}
}

// finishRun flushes the outbox and records terminal run metrics.
func (o *Orchestrator) finishRun(ctx context.Context, run *acceptRun, outcome string, runStart time.Time) {
	buffered := run.outbox.Pending()
	published := run.outbox.Flush(ctx)
	if o.metrics != nil {
		o.metrics.NotificationsPublished.Add(float64(published))
		if dropped := buffered - published; dropped > 0 {
			o.metrics.NotificationsDropped.Add(float64(dropped))
		}
		o.metrics.CompletionsTotal.WithLabelValues(run.proposal.Kind, outcome).Inc()
		o.metrics.CompletionDuration.WithLabelValues(run.proposal.Kind).Observe(time.Since(runStart).Seconds())
	}
}

func (o *Orchestrator) countIssues(phase string, res *validation.Result) {
	if o.metrics == nil {
		return
	}
	for _, is := range res.Issues {
		o.metrics.ValidationIssues.WithLabelValues(phase, is.Severity).Inc()
	}
}

func preValidationError(res *validation.Result, proposalID string) *faults.Error {
	errs := res.Errors()
	for _, is := range errs {
		switch is.Code {
		case validation.CodeProposalNotPending:
			return faults.New(faults.CategoryBusiness, faults.CodeProposalNotPending, is.Message).
				WithContext("proposal_id", proposalID)
		case validation.CodeProposalExpired:
			return faults.New(faults.CategoryBusiness, faults.CodeProposalExpired, is.Message).
				WithContext("proposal_id", proposalID)
		}
	}
	fe := faults.New(faults.CategoryValidation, faults.CodeCompletionValidationFailed, errs[0].Message).
		WithContext("proposal_id", proposalID)
	if errs[0].EntityID != "" {
		fe = fe.WithContext(errs[0].EntityType+"_id", errs[0].EntityID)
	}
	return fe
}

func postValidationError(res *validation.Result, proposalID string) *faults.Error {
	errs := res.Errors()
	msg := "post-completion state does not match the expected outcome"
	if len(errs) > 0 {
		msg = errs[0].Message
	}
	return faults.New(faults.CategoryServer, faults.CodePostValidationFailed, msg).
		WithContext("proposal_id", proposalID)
}

func swapIDs(data *domain.CompletionData) []string {
	out := make([]string, len(data.SwapUpdates))
	for i, u := range data.SwapUpdates {
		out[i] = u.SwapID
	}
	return out
}

func bookingIDs(data *domain.CompletionData) []string {
	out := make([]string, len(data.BookingUpdates))
	for i, u := range data.BookingUpdates {
		out[i] = u.BookingID
	}
	return out
}
