package domain

// Proposal represents an exchange offer between two users.
// Corresponds to proposals table in PostgreSQL.
type Proposal struct {
	ID           string  // UUID primary key
	SourceSwapID *string // proposer's swap; nil for cash proposals
	TargetSwapID string  // target user's swap
	ProposerID   string
	TargetUserID string
	Kind         string // "booking_exchange" | "cash"
	Status       string // "pending" | "accepted" | "rejected" | "expired"
	CashAmount   *int64 // minor units; cash proposals only
	CashCurrency *string
	RespondedAt  *int64 // Unix timestamp in milliseconds
	RespondedBy  *string
	ExpiresAt    *int64 // nil means no expiry
	CreatedAt    int64
}

// Proposal kind constants
const (
	ProposalKindExchange = "booking_exchange"
	ProposalKindCash     = "cash"
)

// Proposal status constants
const (
	ProposalStatusPending  = "pending"
	ProposalStatusAccepted = "accepted"
	ProposalStatusRejected = "rejected"
	ProposalStatusExpired  = "expired"
)

// IsExpired reports whether the proposal expiry has passed at nowMs.
func (p *Proposal) IsExpired(nowMs int64) bool {
	return p.ExpiresAt != nil && *p.ExpiresAt <= nowMs
}

// IsCash reports whether the proposal offers cash for a booking.
func (p *Proposal) IsCash() bool {
	return p.Kind == ProposalKindCash
}
