package domain

// SwapUpdate describes the target state of one swap within a completion.
type SwapUpdate struct {
	SwapID                 string
	Status                 string // expected terminal status, normally "completed"
	CompletedAt            int64
	TransactionID          string
	RelatedSwapCompletions []string
}

// BookingUpdate describes the target state of one booking within a
// completion, including the ownership transfer.
type BookingUpdate struct {
	BookingID           string
	Status              string // normally "swapped"
	NewOwnerID          string
	SwappedAt           int64
	TransactionID       string
	RelatedBookingSwaps []string
}

// CompletionData is the input to one completion transaction. A cash
// completion carries exactly one swap and one booking update; a
// booking-exchange completion carries exactly two of each.
type CompletionData struct {
	ProposalID     string
	TransactionID  string
	RespondedBy    string
	RespondedAt    int64
	SwapUpdates    []SwapUpdate
	BookingUpdates []BookingUpdate
}

// ShapeValid reports whether the update counts form one of the two legal
// completion shapes: 1 swap + 1 booking (cash) or 2 + 2 (exchange).
func (d *CompletionData) ShapeValid() bool {
	s, b := len(d.SwapUpdates), len(d.BookingUpdates)
	return (s == 1 && b == 1) || (s == 2 && b == 2)
}

// CompletionResult carries the post-commit entity states and the pre-images
// captured under the proposal row lock, for use by compensation.
type CompletionResult struct {
	UpdatedSwaps    []*Swap
	UpdatedBookings []*Booking
	UpdatedProposal *Proposal
	Original        *OriginalStates
}

// SwapState is the pre-completion image of one swap.
type SwapState struct {
	SwapID                  string
	Status                  string
	CompletedAt             *int64
	CompletionTransactionID *string
	LedgerCompletionID      *string
	RelatedSwapCompletions  []string
}

// BookingState is the pre-completion image of one booking.
type BookingState struct {
	BookingID           string
	OwnerID             string
	Status              string
	SwappedAt           *int64
	SwapTransactionID   *string
	OriginalOwnerID     *string
	RelatedBookingSwaps []string
}

// ProposalState is the pre-completion image of the proposal.
type ProposalState struct {
	ProposalID  string
	Status      string
	RespondedAt *int64
	RespondedBy *string
}

// OriginalStates is the full pre-image of a completion, captured inside the
// completion transaction while the proposal row lock is held. It is the
// input to the database compensation step.
type OriginalStates struct {
	Proposal ProposalState
	Swaps    []SwapState
	Bookings []BookingState
}
