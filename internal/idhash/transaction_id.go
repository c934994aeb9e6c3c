package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeTransactionID computes a deterministic completion transaction id.
// Formula: base58(SHA256(proposal_id|responded_by|responded_at_ms))
// The same accept decision always yields the same id, which keeps ledger
// appends idempotent across saga retries.
func ComputeTransactionID(proposalID, respondedBy string, respondedAtMs int64) string {
	data := fmt.Sprintf("%s|%s|%d", proposalID, respondedBy, respondedAtMs)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// IdempotencyKey computes the caller-supplied idempotency key for one ledger
// append. Formula: base58(SHA256(transaction_id|event_type))
func IdempotencyKey(transactionID, eventType string) string {
	data := fmt.Sprintf("%s|%s", transactionID, eventType)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
