package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bookswap/internal/faults"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements Client using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	retries     prometheus.Counter
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithRetryCounter counts every retried append attempt on the given counter.
func WithRetryCounter(c prometheus.Counter) ClientOption {
	return func(cl *HTTPClient) {
		cl.retries = c
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new ledger HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      uint64       `json:"id"`
	Method  string       `json:"method"`
	Params  appendParams `json:"params"`
}

// appendParams are the parameters of the ledger.append method.
type appendParams struct {
	EventType      string       `json:"event_type"`
	Payload        EventPayload `json:"payload"`
	IdempotencyKey string       `json:"idempotency_key"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("ledger RPC error %d: %s", e.Code, e.Message)
}

// appendResult is the result of the ledger.append method.
type appendResult struct {
	EventID string `json:"event_id"`
}

// Append records one event with retries and exponential backoff. Transport
// failures and 5xx/429 responses are retried; RPC-level errors are final.
func (c *HTTPClient) Append(ctx context.Context, eventType string, payload EventPayload, idempotencyKey string) (string, error) {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "ledger.append",
		Params: appendParams{
			EventType:      eventType,
			Payload:        payload,
			IdempotencyKey: idempotencyKey,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", faults.Wrap(faults.CategoryLedger, faults.CodeLedgerAppendFailed, "marshal request", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if c.retries != nil {
				c.retries.Inc()
			}
			select {
			case <-ctx.Done():
				return "", faults.Wrap(faults.CategoryLedger, faults.CodeLedgerAppendFailed, "append cancelled", ctx.Err())
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return "", faults.Wrap(faults.CategoryLedger, faults.CodeLedgerAppendFailed, "create request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", idempotencyKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", faults.Wrap(faults.CategoryLedger, faults.CodeLedgerAppendFailed,
				fmt.Sprintf("unexpected status %d", resp.StatusCode), fmt.Errorf("%s", string(respBody)))
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return "", faults.Wrap(faults.CategoryLedger, faults.CodeLedgerAppendFailed, "append rejected", rpcResp.Error)
		}

		var result appendResult
		if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
			return "", faults.Wrap(faults.CategoryLedger, faults.CodeLedgerAppendFailed, "unmarshal result", err)
		}
		if result.EventID == "" {
			return "", faults.New(faults.CategoryLedger, faults.CodeLedgerAppendFailed, "ledger returned empty event id")
		}

		return result.EventID, nil
	}

	return "", faults.Wrap(faults.CategoryLedger, faults.CodeLedgerAppendFailed, "max retries exceeded", lastErr)
}
