// Package httpretry provides an HTTP client with bounded, fixed-ladder retry
// logic for external API calls. Transient failures (5xx, network errors) are
// retried on a configurable delay ladder; 429 responses wait out the server's
// Retry-After hint instead of the ladder step. Non-429 client errors are
// never retried.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultDelays is the standard retry ladder: three retries after the initial
// attempt, spaced 1s, 2s, 4s.
var DefaultDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// DefaultRateLimitWait is used when a 429 response carries no Retry-After.
const DefaultRateLimitWait = 60 * time.Second

// RetryClient wraps an HTTPDoer with a fixed retry ladder. The ladder length
// bounds the number of retries; a 429 consumes a ladder step but waits the
// server's Retry-After hint (or DefaultRateLimitWait) instead of the step
// delay.
type RetryClient struct {
	client        HTTPDoer
	delays        []time.Duration
	rateLimitWait time.Duration
}

// NewRetryClient creates a new RetryClient that wraps the given HTTPDoer.
// If client is nil, a default http.Client with 10s timeout is used.
// If delays is nil, DefaultDelays applies.
func NewRetryClient(client HTTPDoer, delays []time.Duration) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	return &RetryClient{
		client:        client,
		delays:        delays,
		rateLimitWait: DefaultRateLimitWait,
	}
}

// Do executes the HTTP request with retry logic.
// It retries on 5xx status codes and transient network/timeout errors, and
// on 429 after honoring Retry-After. It does NOT retry on other client
// errors (400, 401, 403, 404) or on context cancellation. On the final
// attempt the response is returned as-is so the caller can inspect the
// status code and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var wait time.Duration

	for attempt := 0; attempt <= len(rc.delays); attempt++ {
		// Check if context is already canceled
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		if attempt > 0 {
			// Reset request body for retry if applicable
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			log.Printf("httpretry: retry attempt %d/%d for %s %s%s (waiting %s)",
				attempt, len(rc.delays), req.Method, req.URL.Host, req.URL.Path, wait)

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			// If the context was canceled/expired, don't retry
			if req.Context().Err() != nil {
				return nil, err
			}
			// Network/connection/timeout error: retry on the ladder
			if attempt < len(rc.delays) {
				wait = rc.delays[attempt]
			}
			continue
		}

		// Non-retryable status code: return immediately (success or
		// permanent client error)
		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		// Last attempt: return the response as-is so the caller can read
		// the body and classify the failure
		if attempt == len(rc.delays) {
			return resp, nil
		}

		// Pick the wait for the next attempt before the body is drained.
		if resp.StatusCode == http.StatusTooManyRequests {
			wait = rc.retryAfterWait(resp)
		} else {
			wait = rc.delays[attempt]
		}

		// Drain body for connection reuse, then retry
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// retryAfterWait returns the wait for a 429 response: the Retry-After header
// when present and parseable, else the configured rate-limit fallback.
func (rc *RetryClient) retryAfterWait(resp *http.Response) time.Duration {
	if d, ok := ParseRetryAfter(resp); ok {
		return d
	}
	return rc.rateLimitWait
}

// ParseRetryAfter extracts the Retry-After header from a response, handling
// both delta-seconds and HTTP-date forms. Returns false when the header is
// absent or unparseable, and caps negative values at zero.
func ParseRetryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// isRetryableStatus returns true if the HTTP status code indicates a failure
// worth another attempt. Retries: 429 (after Retry-After) and all 5xx.
// Does NOT retry: 400, 401, 403, 404, or any other client error.
func isRetryableStatus(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode <= 599
}
