package domain

// CompletionAuditRecord is one row per completion attempt. It is the durable
// source of truth for recovery tooling when in-memory rollback bookkeeping
// is lost across a process restart.
// Corresponds to completion_audits table in PostgreSQL.
type CompletionAuditRecord struct {
	ID                  string // UUID primary key
	ProposalID          string
	TransactionID       string
	LedgerTransactionID *string // nil until the ledger append is confirmed
	AffectedSwaps       []string
	AffectedBookings    []string
	Status              string  // see AuditStatus* constants
	ErrorDetails        *string // JSON-encoded structured error, nil on success
	CreatedAt           int64
	UpdatedAt           int64
}

// Audit status constants
const (
	AuditStatusInProgress = "in_progress"
	AuditStatusCompleted  = "completed"
	AuditStatusFailed     = "failed"
	AuditStatusRolledBack = "rolled_back"
)
