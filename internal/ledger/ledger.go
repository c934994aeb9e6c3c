// Package ledger provides the client for the external append-only ledger.
// Appends are at-least-once with caller-supplied idempotency keys; recorded
// events are never retracted, only superseded by cancellation events.
package ledger

import "context"

// Ledger event types
const (
	EventCompletionRecorded  = "completion.recorded"
	EventCompletionCancelled = "completion.cancelled"
	EventProposalRejected    = "proposal.rejected"
)

// EventPayload is the domain payload of one ledger event.
type EventPayload struct {
	TransactionID string   `json:"transaction_id"`
	ProposalID    string   `json:"proposal_id"`
	SwapIDs       []string `json:"swap_ids,omitempty"`
	BookingIDs    []string `json:"booking_ids,omitempty"`
	RespondedBy   string   `json:"responded_by,omitempty"`
	RespondedAt   int64    `json:"responded_at,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// Client appends domain events to the ledger.
type Client interface {
	// Append records one event and returns its ledger event id. Given the
	// same idempotency key the ledger returns the original event id instead
	// of recording a duplicate.
	Append(ctx context.Context, eventType string, payload EventPayload, idempotencyKey string) (string, error)
}

// Confirmation is one confirmed ledger event observed on the watch stream.
type Confirmation struct {
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	TransactionID string `json:"transaction_id"`
	ConfirmedAt   int64  `json:"confirmed_at"`
}
