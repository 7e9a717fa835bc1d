// Package source provides adapters for the upstream trade feeds the bot
// polls: the STON.fi block-export feed and the DeDust trade list.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jpillora/backoff"
)

// ---------------------
// Errors
// ---------------------

// FailKind classifies why a fetch produced no records.
type FailKind string

const (
	// FailTransport is a network-level failure (timeout, connection reset).
	FailTransport FailKind = "transport"
	// FailStatus is a non-success HTTP status.
	FailStatus FailKind = "status"
	// FailDecode is a malformed payload.
	FailDecode FailKind = "decode"
)

// FetchError reports a failed upstream fetch. The orchestrator treats it as
// a skipped cycle for the (pair, source) unit, distinct from "no new
// records".
type FetchError struct {
	Source string
	Pool   string
	Kind   FailKind
	Err    error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch failed (%s): %v", e.Source, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause
func (e *FetchError) Unwrap() error { return e.Err }

// ---------------------
// HTTP client
// ---------------------

const (
	defaultTimeout  = 20 * time.Second
	defaultAttempts = 3
)

// client is the shared HTTP layer for feed adapters. Transient failures are
// retried a bounded number of times with backoff inside one call; anything
// still failing is surfaced as a FetchError.
type client struct {
	http     *http.Client
	attempts int
}

func newClient(timeout time.Duration) *client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		http:     &http.Client{Timeout: timeout},
		attempts: defaultAttempts,
	}
}

// setupBackoffRetry creates a backoff with sensible defaults
func setupBackoffRetry() *backoff.Backoff {
	return &backoff.Backoff{
		Min: 100 * time.Millisecond,
		Max: 1 * time.Second,
	}
}

// getJSON performs a GET with bounded retries and decodes the body into out.
func (c *client) getJSON(ctx context.Context, rawURL string, params url.Values, out any) (FailKind, error) {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}

	retry := setupBackoffRetry()

	var lastKind FailKind
	var lastErr error

	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return FailTransport, ctx.Err()
			case <-time.After(retry.Duration()):
			}
		}

		kind, err := c.getJSONOnce(ctx, rawURL, out)
		if err == nil {
			return "", nil
		}

		lastKind, lastErr = kind, err

		// Client errors and broken payloads will not heal on retry.
		if kind != FailTransport {
			break
		}
	}

	return lastKind, lastErr
}

func (c *client) getJSONOnce(ctx context.Context, rawURL string, out any) (FailKind, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FailTransport, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return FailTransport, err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusInternalServerError {
		io.Copy(io.Discard, res.Body)
		return FailTransport, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	if res.StatusCode != http.StatusOK {
		io.Copy(io.Discard, res.Body)
		return FailStatus, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return FailDecode, fmt.Errorf("failed to decode response: %w", err)
	}

	return "", nil
}
