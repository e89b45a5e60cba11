// Package backend implements the typed REST envelope over the patient and
// scan-result API. It owns the retry/backoff policy, the masked exchange
// snapshots stored into conversation state by the tool layer, and the
// envelope-level error taxonomy.
//
// The retry contract is deliberately narrow: at most two retries, eligible
// only for transport failures and HTTP 502/503/504, with a fixed 0.5 s then
// 1.0 s wait. POST is retried only while no response has ever been received,
// so a create can never be issued twice.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hydrosense/hydrochat/internal/observe"
	"github.com/hydrosense/hydrochat/internal/redact"
	"github.com/hydrosense/hydrochat/pkg/types"
)

const (
	// maxRetries bounds retry attempts per logical call (attempts = 1 + retries).
	maxRetries = 2

	// truncateOver is the body size above which snapshots are truncated.
	truncateOver = 3 * 1024

	// truncateTo is the snapshot length kept for oversized bodies.
	truncateTo = 512
)

// backoff is the fixed wait schedule between attempts. Not exponential.
var backoff = [maxRetries]time.Duration{500 * time.Millisecond, time.Second}

// Result is the successful outcome of a logical call.
type Result struct {
	Status    int
	Body      []byte
	ElapsedMS int64
}

// Exchange is the masked record of one logical call, ready to be stored into
// conversation state. Exactly one of Response and Error is set.
type Exchange struct {
	Request  *types.ToolRequestSnapshot
	Response *types.ToolResponseSnapshot
	Error    *types.ToolErrorSnapshot

	// Retries is the number of retry attempts this call consumed.
	Retries int64
}

// Client is the REST envelope. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client

	// sleep is swappable so tests do not wait out the backoff schedule.
	sleep func(context.Context, time.Duration) error
}

// New creates a Client for the API rooted at baseURL. token may be empty, in
// which case no Authorization header is sent. timeout applies per request
// attempt, not per logical call.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: timeout},
		sleep:   sleepCtx,
	}
}

// Request performs one logical call against the backend. body, when non-nil,
// is JSON-encoded. The returned Exchange is always non-nil, success or
// failure, so the caller can record it unconditionally.
func (c *Client) Request(ctx context.Context, method, path string, body any, query url.Values) (*Result, *Exchange, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	// The request snapshot exists from this point on, so the caller can
	// record the call even when the body never makes it onto the wire.
	ex := &Exchange{Request: &types.ToolRequestSnapshot{Method: method, URL: fullURL}}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, ex, fmt.Errorf("backend: encode %s %s body: %w", method, path, err)
		}
	}
	var (
		responseSeen bool
		lastErr      error
	)

	for attempt := 1; attempt <= 1+maxRetries; attempt++ {
		ex.Request = &types.ToolRequestSnapshot{
			Method:  method,
			URL:     fullURL,
			Body:    redact.MaskText(string(payload)),
			Attempt: attempt,
		}

		start := time.Now()
		status, respBody, seen, err := c.attempt(ctx, method, fullURL, payload)
		elapsed := time.Since(start)

		// A status line counts as a response even when reading the body
		// failed afterwards: the backend may already have applied the write.
		if seen {
			responseSeen = true
		}

		if err != nil {
			lastErr = err
			retryable := isRetryableTransport(err)
			ex.Error = &types.ToolErrorSnapshot{Retryable: retryable}
			if !retryable || attempt > maxRetries || (method == http.MethodPost && responseSeen) {
				observe.Error(ctx, observe.CategoryError, "backend call failed",
					"method", method, "path", path, "attempt", attempt, "err", err)
				return nil, ex, err
			}
			observe.Warn(ctx, observe.CategoryRetry, "transport failure, retrying",
				"method", method, "path", path, "attempt", attempt, "err", err)
			if serr := c.sleep(ctx, backoff[attempt-1]); serr != nil {
				return nil, ex, fmt.Errorf("backend: wait before retry: %w", serr)
			}
			ex.Retries++
			continue
		}

		if status >= 200 && status < 300 {
			snapBody, truncated := maskBody(respBody)
			ex.Error = nil
			ex.Response = &types.ToolResponseSnapshot{
				Status:    status,
				Body:      snapBody,
				Truncated: truncated,
				ElapsedMS: elapsed.Milliseconds(),
			}
			return &Result{Status: status, Body: respBody, ElapsedMS: elapsed.Milliseconds()}, ex, nil
		}

		snapBody, _ := maskBody(respBody)
		retryable := retryableStatus(status)
		ex.Error = &types.ToolErrorSnapshot{Status: status, Body: snapBody, Retryable: retryable}
		lastErr = &HTTPError{Status: status, Body: string(respBody)}

		// POST never retries once a response has been observed: the backend
		// may already have applied the write.
		if !retryable || attempt > maxRetries || method == http.MethodPost {
			if retryable {
				observe.Error(ctx, observe.CategoryError, "backend returned retryable status, budget exhausted",
					"method", method, "path", path, "status", status, "attempt", attempt)
			}
			return nil, ex, lastErr
		}
		observe.Warn(ctx, observe.CategoryRetry, "retryable status, retrying",
			"method", method, "path", path, "status", status, "attempt", attempt)
		if serr := c.sleep(ctx, backoff[attempt-1]); serr != nil {
			return nil, ex, fmt.Errorf("backend: wait before retry: %w", serr)
		}
		ex.Retries++
	}

	return nil, ex, lastErr
}

// attempt performs a single HTTP round trip. seen reports whether a status
// line arrived, distinguishing a body-read failure from a request that never
// reached the backend.
func (c *Client) attempt(ctx context.Context, method, fullURL string, payload []byte) (status int, body []byte, seen bool, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return 0, nil, false, fmt.Errorf("backend: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, false, classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, true, classifyTransport(err)
	}
	return resp.StatusCode, respBody, true, nil
}

// maskBody masks NRICs in a response body and truncates oversized bodies to
// the snapshot limit.
func maskBody(b []byte) (body string, truncated bool) {
	masked := redact.MaskText(string(b))
	if len(b) > truncateOver {
		if len(masked) > truncateTo {
			masked = masked[:truncateTo]
		}
		return masked, true
	}
	return masked, false
}

// retryableStatus reports whether an HTTP status is in the retry set.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryableTransport reports whether a transport error may be retried.
// Cancellation is excluded by classifyTransport, which wraps it outside the
// retryable sentinels.
func isRetryableTransport(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork)
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
