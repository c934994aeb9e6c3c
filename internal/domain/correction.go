package domain

// Correctable entity types, discovered by probing which table holds an id.
const (
	EntityTypeSwap     = "swap"
	EntityTypeBooking  = "booking"
	EntityTypeProposal = "proposal"
)

// StatusCorrection pushes a known-correct terminal status onto one entity
// whose persisted state drifted from the expected post-completion value.
// Correction never invents relationships; it only forces the status and a
// fresh timestamp.
type StatusCorrection struct {
	EntityID       string
	EntityType     string // EntityType* constant
	ExpectedStatus string // "completed" | "swapped" | "accepted"
	Timestamp      int64  // fresh completion timestamp in milliseconds
	TransactionID  string
}
