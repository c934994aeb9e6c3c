// Package stub provides an in-memory ledger client for tests.
package stub

import (
	"context"
	"fmt"
	"sync"

	"bookswap/internal/faults"
	"bookswap/internal/ledger"
)

// Append records one recorded event for assertions.
type Append struct {
	EventID        string
	EventType      string
	Payload        ledger.EventPayload
	IdempotencyKey string
}

// Ledger is an in-memory ledger.Client with idempotency semantics and
// failure injection.
type Ledger struct {
	mu      sync.Mutex
	appends []Append
	byKey   map[string]string // idempotency key -> event id
	nextID  int

	// FailCount makes the next n Append calls fail with FailErr.
	FailCount int
	FailErr   error
}

// New creates a new stub ledger.
func New() *Ledger {
	return &Ledger{byKey: make(map[string]string)}
}

// Compile-time interface check.
var _ ledger.Client = (*Ledger)(nil)

// Append records the event, deduplicating on the idempotency key.
func (l *Ledger) Append(_ context.Context, eventType string, payload ledger.EventPayload, idempotencyKey string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailCount > 0 {
		l.FailCount--
		if l.FailErr != nil {
			return "", l.FailErr
		}
		return "", faults.New(faults.CategoryLedger, faults.CodeLedgerAppendFailed, "injected ledger failure")
	}

	if id, ok := l.byKey[idempotencyKey]; ok {
		return id, nil
	}

	l.nextID++
	id := fmt.Sprintf("ledger-event-%d", l.nextID)
	l.byKey[idempotencyKey] = id
	l.appends = append(l.appends, Append{
		EventID:        id,
		EventType:      eventType,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
	})
	return id, nil
}

// Appends returns all recorded appends in order.
func (l *Ledger) Appends() []Append {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Append, len(l.appends))
	copy(out, l.appends)
	return out
}
