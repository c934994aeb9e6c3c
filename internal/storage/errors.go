package storage

import "errors"

// Storage errors shared by all implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoRowsAffected is returned when an update matched zero rows.
	// Inside a completion transaction this aborts the whole transaction.
	ErrNoRowsAffected = errors.New("no rows affected")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProposalNotPending is returned when the locked proposal row is not
	// in pending status, i.e. a concurrent accept/reject won the race.
	ErrProposalNotPending = errors.New("proposal is not pending")
)
