// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

var (
	ErrTimeout       = errors.New("HTTP_TIMEOUT")
	ErrRequestFailed = errors.New("HTTP_REQUEST_FAILED")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

func NewClient(timeout time.Duration, maxRetries int) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries:  maxRetries,
		baseBackoff: 100 * time.Millisecond,
	}
}

// WithBackoff overrides the base delay between retries.
func (c *Client) WithBackoff(d time.Duration) *Client {
	c.baseBackoff = d
	return c
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req.WithContext(ctx))
}

// DoJSON sends in (when non-nil) as a JSON body and decodes a 2xx response into out.
// The request is rebuilt for every attempt so the body is never reused.
// Network errors, 429 and 5xx are retried with exponential backoff.
func (c *Client) DoJSON(ctx context.Context, method, url string, headers map[string]string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrRequestFailed, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRequestFailed, err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		lastErr = c.attempt(req, out)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil || isTimeout(lastErr) {
			return fmt.Errorf("%w: %v", ErrTimeout, lastErr)
		}
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.Retryable() {
			return lastErr
		}
		var decErr *decodeError
		if errors.As(lastErr, &decErr) {
			return fmt.Errorf("%w: %v", ErrRequestFailed, lastErr)
		}
	}

	return fmt.Errorf("%w: %v", ErrRequestFailed, lastErr)
}

func (c *Client) attempt(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
