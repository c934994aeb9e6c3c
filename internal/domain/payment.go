package domain

// PaymentTransaction represents the cash leg of a completion.
// Corresponds to payment_transactions table in PostgreSQL.
// Amounts are integer minor units (e.g. satang, cents).
type PaymentTransaction struct {
	ID          string // UUID primary key
	ProposalID  string
	PayerID     string
	PayeeID     string
	Amount      int64  // gross amount charged to the payer
	Currency    string // ISO 4217 lowercase, e.g. "thb"
	GatewayRef  string // charge id at the payment gateway
	PlatformFee int64  // fee retained by the platform
	NetAmount   int64  // Amount - PlatformFee, owed to the payee
	Status      string // see PaymentStatus* constants
	CreatedAt   int64
}

// Payment status constants
const (
	PaymentStatusPending  = "pending"
	PaymentStatusCaptured = "captured"
	PaymentStatusReversed = "reversed"
	PaymentStatusFailed   = "failed"
)
