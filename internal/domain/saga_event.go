package domain

// SagaEvent is one phase transition of a saga run, appended to the analytics
// store for ops dashboards. Rows are append-only.
// Corresponds to saga_events table in ClickHouse.
type SagaEvent struct {
	RunID         string
	ProposalID    string
	TransactionID string
	Phase         string // orchestrator phase name
	Outcome       string // "ok" | "failed" | "skipped"
	ErrorCode     string // empty on success
	DurationMs    int64
	Timestamp     int64 // Unix timestamp in milliseconds
}

// Saga event outcome constants
const (
	SagaOutcomeOK      = "ok"
	SagaOutcomeFailed  = "failed"
	SagaOutcomeSkipped = "skipped"
)
