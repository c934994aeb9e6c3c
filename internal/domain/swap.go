package domain

// Swap represents a booking listed for exchange by its owner.
// Corresponds to swaps table in PostgreSQL.
type Swap struct {
	ID                      string // UUID primary key
	OwnerID                 string
	BookingID               string
	Status                  string   // see SwapStatus* constants
	CompletedAt             *int64   // Unix timestamp in milliseconds, set on completion
	CompletionTransactionID *string  // links the swap to the saga run that completed it
	LedgerCompletionID      *string  // ledger event id, set once the append is confirmed
	RelatedSwapCompletions  []string // sibling swap ids completed in the same run
	CreatedAt               int64
}

// Swap status constants
const (
	SwapStatusPending   = "pending"
	SwapStatusActive    = "active"
	SwapStatusMatched   = "matched"
	SwapStatusCompleted = "completed"
	SwapStatusCancelled = "cancelled"
)
