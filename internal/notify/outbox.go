package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Outbox buffers events for one completion run. Events accumulate while the
// run is in flight and are published in order when Flush is called at a
// terminal state. Publish failures are logged and skipped: notification
// delivery never blocks or fails a completion.
type Outbox struct {
	publisher Publisher
	logger    zerolog.Logger

	mu      sync.Mutex
	pending []Event
}

// NewOutbox creates an outbox publishing through the given publisher.
func NewOutbox(publisher Publisher, logger zerolog.Logger) *Outbox {
	return &Outbox{publisher: publisher, logger: logger}
}

// Add buffers an event for the next Flush.
func (o *Outbox) Add(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, ev)
}

// Pending returns the number of buffered events.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Flush publishes all buffered events in order and clears the buffer. It
// returns the number of events published; events that fail to publish are
// logged and dropped.
func (o *Outbox) Flush(ctx context.Context) int {
	o.mu.Lock()
	events := o.pending
	o.pending = nil
	o.mu.Unlock()

	published := 0
	for _, ev := range events {
		if err := o.publisher.PublishJSON(ctx, ev.Type, ev); err != nil {
			o.logger.Error().Err(err).
				Str("event_type", ev.Type).
				Str("proposal_id", ev.ProposalID).
				Msg("notification publish failed, dropping event")
			continue
		}
		published++
	}
	return published
}

// Discard clears the buffer without publishing. Used when a run is retried
// from scratch and the buffered events no longer describe the outcome.
func (o *Outbox) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = nil
}
