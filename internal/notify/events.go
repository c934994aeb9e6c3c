// Package notify delivers user-facing notifications for completion outcomes.
// Events are buffered in an outbox during a completion run and published only
// once the run reaches a terminal state, so observers never see notifications
// for work that was later rolled back.
package notify

import "time"

// Routing keys for completion notifications.
const (
	TypeCompletionSucceeded = "completion.succeeded"
	TypeCompletionFailed    = "completion.failed"
	TypeProposalRejected    = "proposal.rejected"
	TypeRollbackNotice      = "completion.rolled_back"
	TypeManualIntervention  = "completion.manual_intervention"
)

// Event is one notification to the parties of a proposal.
type Event struct {
	Type          string   `json:"type"`
	TransactionID string   `json:"transaction_id,omitempty"`
	ProposalID    string   `json:"proposal_id"`
	SwapIDs       []string `json:"swap_ids,omitempty"`
	BookingIDs    []string `json:"booking_ids,omitempty"`
	Recipients    []string `json:"recipients,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	OccurredAt    int64    `json:"occurred_at"`
}

// NewEvent creates an event of the given type stamped with the current time.
func NewEvent(eventType, proposalID string) Event {
	return Event{
		Type:       eventType,
		ProposalID: proposalID,
		OccurredAt: time.Now().UnixMilli(),
	}
}
