package domain

// Booking represents a reservation owned by a user.
// Corresponds to bookings table in PostgreSQL.
type Booking struct {
	ID                  string // UUID primary key
	OwnerID             string
	Status              string   // "confirmed" | "swapped"
	CheckInDate         int64    // Unix timestamp in milliseconds
	SwappedAt           *int64   // set when ownership transfers
	SwapTransactionID   *string  // saga run that transferred the booking
	OriginalOwnerID     *string  // pre-transfer owner, preserved for audit and rollback
	RelatedBookingSwaps []string // sibling booking ids swapped in the same run
	CreatedAt           int64
}

// Booking status constants
const (
	BookingStatusConfirmed = "confirmed"
	BookingStatusSwapped   = "swapped"
)
