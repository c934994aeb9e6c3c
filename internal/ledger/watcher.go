package ledger

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WatcherConfig configures the confirmation watcher.
type WatcherConfig struct {
	// ReconnectDelay is initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
}

// DefaultWatcherConfig returns default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
	}
}

// Watcher streams ledger event confirmations over WebSocket. The server's
// confirmation watcher uses it to patch completion audits whose appends
// exhausted retries, so ledger-recording failures reconcile out of band.
type Watcher struct {
	endpoint string
	config   WatcherConfig
	logger   zerolog.Logger
	closed   atomic.Bool
}

// NewWatcher creates a new confirmation watcher.
func NewWatcher(endpoint string, config WatcherConfig, logger zerolog.Logger) *Watcher {
	return &Watcher{endpoint: endpoint, config: config, logger: logger}
}

// Watch connects to the confirmation stream and sends confirmations on the
// returned channel until ctx is done or Close is called. The connection is
// re-established with backoff on failure; the channel is closed on exit.
func (w *Watcher) Watch(ctx context.Context) <-chan Confirmation {
	out := make(chan Confirmation)

	go func() {
		defer close(out)

		delay := w.config.ReconnectDelay
		for {
			if ctx.Err() != nil || w.closed.Load() {
				return
			}

			err := w.readLoop(ctx, out)
			if ctx.Err() != nil || w.closed.Load() {
				return
			}
			if err != nil {
				w.logger.Warn().Err(err).Dur("retry_in", delay).Msg("confirmation stream disconnected")
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = delay * 2
			if delay > w.config.MaxReconnectDelay {
				delay = w.config.MaxReconnectDelay
			}
		}
	}()

	return out
}

// Close stops the watcher after the current read returns.
func (w *Watcher) Close() {
	w.closed.Store(true)
}

func (w *Watcher) readLoop(ctx context.Context, out chan<- Confirmation) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	w.logger.Info().Str("endpoint", w.endpoint).Msg("confirmation stream connected")

	for {
		if w.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var c Confirmation
		if err := json.Unmarshal(msg, &c); err != nil {
			w.logger.Warn().Err(err).Msg("skipping malformed confirmation")
			continue
		}
		if c.EventID == "" {
			continue
		}

		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
