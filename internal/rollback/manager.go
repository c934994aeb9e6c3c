// Package rollback compensates the side effects of a failed completion run.
// Steps are unwound in reverse order of execution; failures in one subsystem
// never stop compensation of the others, except that a failure demanding
// manual intervention halts the remaining database, payment and ledger steps
// while notification and cleanup still proceed.
package rollback

import (
	"context"
	"sync"
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
	"bookswap/internal/storage"
)

const (
	defaultMaxAttempts = 3
	defaultRegistryTTL = 30 * time.Minute
)

// Options configures a rollback Manager.
type Options struct {
	TxManager storage.TransactionManager
	Payments  payment.Client
	Ledger    ledger.Client
	Logger    zerolog.Logger
	Metrics   *observability.Metrics // optional

	// MaxAttempts bounds compensation passes; only steps that failed in the
	// previous pass are re-run. Defaults to 3.
	MaxAttempts int

	// RegistryTTL is how long a finished operation stays queryable in the
	// in-memory registry. Defaults to 30 minutes.
	RegistryTTL time.Duration
}

// Manager executes compensation runs and tracks them in an in-memory
// registry keyed by run id. The completion audit row is the durable record;
// the registry only serves in-flight inspection.
type Manager struct {
	txm         storage.TransactionManager
	payments    payment.Client
	ledger      ledger.Client
	logger      zerolog.Logger
	metrics     *observability.Metrics
	maxAttempts int
	ttl         time.Duration
	now         func() time.Time

	mu  sync.Mutex
	ops map[string]*domain.RollbackOperation
}

// NewManager creates a rollback manager.
func NewManager(opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RegistryTTL <= 0 {
		opts.RegistryTTL = defaultRegistryTTL
	}
	return &Manager{
		txm:         opts.TxManager,
		payments:    opts.Payments,
		ledger:      opts.Ledger,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		maxAttempts: opts.MaxAttempts,
		ttl:         opts.RegistryTTL,
		now:         time.Now,
		ops:         make(map[string]*domain.RollbackOperation),
	}
}

// Request describes one compensation run.
type Request struct {
	ProposalID string
	Action     string // domain.RollbackAction* constant
	UserID     string
	CauseCode  string // error code that stopped the saga
	Steps      []domain.SagaStep
	Outbox     *notify.Outbox
}

// criticalClass reports whether a step type is halted once manual
// intervention is required.
func criticalClass(stepType string) bool {
	switch stepType {
	case domain.StepTypeDatabase, domain.StepTypePayment, domain.StepTypeLedger:
		return true
	}
	return false
}

// Execute unwinds the given steps in reverse order. Steps whose
// RollbackRequired flag is unset are skipped outright. Failed steps are
// retried in later passes until MaxAttempts; a failure that demands manual
// intervention stops retries and halts the remaining critical-class steps.
// Exhausting MaxAttempts with steps still failing escalates the run to
// manual intervention as well.
func (m *Manager) Execute(ctx context.Context, req Request) *domain.RollbackResult {
	runID := uuid.NewString()
	startedAt := m.now().UnixMilli()

	// reverse execution order, dropping steps that need no compensation
	var steps []domain.SagaStep
	for i := len(req.Steps) - 1; i >= 0; i-- {
		if req.Steps[i].RollbackRequired {
			steps = append(steps, req.Steps[i])
		}
	}

	op := &domain.RollbackOperation{
		RunID:      runID,
		ProposalID: req.ProposalID,
		Action:     req.Action,
		UserID:     req.UserID,
		CauseCode:  req.CauseCode,
		Steps:      steps,
		StartedAt:  startedAt,
		UpdatedAt:  startedAt,
	}
	m.register(op)

	outcomes := make([]domain.StepOutcome, len(steps))
	for i, step := range steps {
		outcomes[i] = domain.StepOutcome{StepName: step.Name}
	}

	pending := make([]int, len(steps))
	for i := range steps {
		pending[i] = i
	}

	manual := false
	attempts := 0
	for attempts < m.maxAttempts && len(pending) > 0 && !manual {
		attempts++
		var failed []int

		for _, i := range pending {
			step := steps[i]
			if manual && criticalClass(step.Type) {
				outcomes[i].Skipped = true
				m.logger.Warn().
					Str("run_id", runID).
					Str("step", step.Name).
					Msg("compensation step skipped after manual intervention")
				continue
			}

			err := m.compensate(ctx, req, step)
			if err == nil {
				outcomes[i] = domain.StepOutcome{StepName: step.Name, Succeeded: true}
				continue
			}

			needsOperator := faults.StepRequiresManualIntervention(step.Type, err)
			outcomes[i] = domain.StepOutcome{
				StepName:           step.Name,
				Error:              err.Error(),
				ManualIntervention: needsOperator,
			}
			m.logger.Error().Err(err).
				Str("run_id", runID).
				Str("proposal_id", req.ProposalID).
				Str("step", step.Name).
				Bool("manual_intervention", needsOperator).
				Msg("compensation step failed")

			if needsOperator {
				manual = true
				continue
			}
			failed = append(failed, i)
		}

		pending = failed
	}

	// retry exhaustion with steps still failing is itself an operator case:
	// half-applied state must never be left without the manual flag
	if len(pending) > 0 && !manual {
		manual = true
		for _, i := range pending {
			outcomes[i].ManualIntervention = true
		}
		m.logger.Error().
			Str("run_id", runID).
			Str("proposal_id", req.ProposalID).
			Int("attempts", attempts).
			Int("steps_failed", len(pending)).
			Msg("compensation retries exhausted, manual intervention required")
	}

	result := &domain.RollbackResult{
		RunID:                      runID,
		Attempts:                   attempts,
		ManualInterventionRequired: manual,
	}
	for _, oc := range outcomes {
		switch {
		case oc.Succeeded:
			result.StepsRolledBack = append(result.StepsRolledBack, oc.StepName)
		case oc.Skipped:
			result.StepsSkipped = append(result.StepsSkipped, oc.StepName)
		default:
			result.StepsFailed = append(result.StepsFailed, oc.StepName)
		}
	}

	if manual && req.Outbox != nil {
		ev := notify.NewEvent(notify.TypeManualIntervention, req.ProposalID)
		ev.Reason = req.CauseCode
		req.Outbox.Add(ev)
	}

	m.mu.Lock()
	op.Outcomes = outcomes
	op.Attempts = attempts
	op.ManualIntervention = manual
	op.UpdatedAt = m.now().UnixMilli()
	m.mu.Unlock()

	return result
}

func (m *Manager) compensate(ctx context.Context, req Request, step domain.SagaStep) error {
	switch step.Type {
	case domain.StepTypeDatabase:
		return m.txm.RollbackCompletion(ctx, step.DB.TransactionID, step.DB.Original)

	case domain.StepTypePayment:
		err := m.payments.Reverse(ctx, step.Payment.GatewayRef)
		if m.metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = "failed"
			}
			m.metrics.PaymentReversals.WithLabelValues(outcome).Inc()
		}
		return err

	case domain.StepTypeLedger:
		// the ledger is append-only: compensation appends a cancellation
		// event referencing the original write
		payload := ledger.EventPayload{
			TransactionID: step.Ledger.TransactionID,
			ProposalID:    req.ProposalID,
			Reason:        req.CauseCode,
		}
		key := idhash.IdempotencyKey(step.Ledger.TransactionID, ledger.EventCompletionCancelled)
		_, err := m.ledger.Append(ctx, ledger.EventCompletionCancelled, payload, key)
		return err

	case domain.StepTypeNotification:
		if req.Outbox != nil {
			ev := notify.NewEvent(notify.TypeRollbackNotice, step.Notification.ProposalID)
			ev.Recipients = step.Notification.UserIDs
			ev.Reason = req.CauseCode
			req.Outbox.Add(ev)
		}
		return nil

	case domain.StepTypeCleanup:
		m.logger.Debug().
			Str("proposal_id", req.ProposalID).
			Str("step", step.Name).
			Msg("cleanup step released run-local state")
		return nil
	}

	return faults.New(faults.CategoryServer, faults.CodeRollbackFailed,
		"unknown step type "+step.Type)
}

func (m *Manager) register(op *domain.RollbackOperation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.RunID] = op
}

// Get returns the registered operation for a run id.
func (m *Manager) Get(runID string) (*domain.RollbackOperation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[runID]
	return op, ok
}

// Active returns the number of operations currently in the registry.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

// Sweep drops registry entries older than the TTL and returns how many were
// removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.ttl).UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, op := range m.ops {
		if op.UpdatedAt < cutoff {
			delete(m.ops, id)
			removed++
		}
	}
	return removed
}

// StartSweeper sweeps the registry at the given interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					m.logger.Debug().Int("removed", n).Msg("rollback registry swept")
				}
			}
		}
	}()
}
