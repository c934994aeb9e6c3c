package domain

// Saga step subsystem types. The type decides which compensator runs and
// whether a compensation failure demands manual intervention.
const (
	StepTypeDatabase     = "database"
	StepTypePayment      = "payment"
	StepTypeLedger       = "ledger"
	StepTypeNotification = "notification"
	StepTypeCleanup      = "cleanup"
)

// DBStepData carries what the database compensator needs: the saga
// transaction id and the captured pre-images to restore.
type DBStepData struct {
	TransactionID string
	Original      *OriginalStates
}

// PaymentStepData carries the gateway reference of a captured charge.
type PaymentStepData struct {
	PaymentID  string
	GatewayRef string
}

// LedgerStepData carries the appended event reference so the compensator can
// append a cancellation event (ledger writes are never retracted).
type LedgerStepData struct {
	EventID       string
	EventType     string
	TransactionID string
}

// NotificationStepData identifies the users to notify about the unwind.
type NotificationStepData struct {
	ProposalID string
	UserIDs    []string
}

// SagaStep records one already-executed saga side effect, tagged by
// subsystem and carrying the data its compensator needs.
type SagaStep struct {
	Name             string // e.g. "completion_transaction"
	Type             string // StepType* constant
	RollbackRequired bool

	// Exactly one of the following is set, matching Type.
	DB           *DBStepData
	Payment      *PaymentStepData
	Ledger       *LedgerStepData
	Notification *NotificationStepData
}

// StepOutcome records the result of compensating one step.
type StepOutcome struct {
	StepName           string
	Succeeded          bool
	Skipped            bool // halted after a critical failure
	Error              string
	ManualIntervention bool
}

// RollbackOperation is the in-memory bookkeeping for one compensation run.
// It lives in the rollback manager's registry for the duration of the run
// plus bounded retries; the completion audit row is the durable record.
type RollbackOperation struct {
	RunID              string
	ProposalID         string
	Action             string // "accept" | "reject"
	UserID             string
	CauseCode          string // code of the error that stopped the saga
	Steps              []SagaStep
	Outcomes           []StepOutcome
	Attempts           int
	ManualIntervention bool
	StartedAt          int64
	UpdatedAt          int64
}

// Rollback action constants
const (
	RollbackActionAccept = "accept"
	RollbackActionReject = "reject"
)

// RollbackResult is the structured outcome of a compensation run.
type RollbackResult struct {
	RunID                      string
	StepsRolledBack            []string
	StepsFailed                []string
	StepsSkipped               []string
	Attempts                   int
	ManualInterventionRequired bool
}
