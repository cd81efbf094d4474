package clients

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

	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"
)

// HTTPError is returned when the server answers with a non 2xx status
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// GetStatusCode returns the HTTP status code
func (e *HTTPError) GetStatusCode() int {
	return e.StatusCode
}

// Retryable reports whether the status indicates a transient server condition
func (e *HTTPError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// RetryPolicy controls how transient failures are retried
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultRetryPolicy is 4 attempts with a doubling delay from 1s capped at 15s
var DefaultRetryPolicy = RetryPolicy{Attempts: 4, Delay: time.Second, MaxDelay: 15 * time.Second}

// HTTPClient is a JSON HTTP client that retries transient failures
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	policy     RetryPolicy
	clock      clock.Clock
	logger     *zap.Logger
}

// Option configures an HTTPClient
type Option func(*HTTPClient)

// WithClock sets the clock used for retry delays
func WithClock(clk clock.Clock) Option {
	return func(c *HTTPClient) { c.clock = clk }
}

// WithRetryPolicy overrides the default retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *HTTPClient) { c.policy = p }
}

// WithHTTPClient overrides the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient creates a new HTTP client. Plain http base URLs are refused
// unless allowInsecure is set.
func NewHTTPClient(baseURL string, allowInsecure bool, logger *zap.Logger, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "https" && !(allowInsecure && u.Scheme == "http") {
		return nil, fmt.Errorf("refusing non-https base url %q", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		policy: DefaultRetryPolicy,
		clock:  clock.WallClock,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DoRequest sends payload as JSON and decodes a 2xx response into out.
// Network errors and 429/502/503/504 are retried; other statuses return an
// *HTTPError immediately.
func (c *HTTPClient) DoRequest(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = jsonData
	}

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return c.do(ctx, method, path, body, out)
		},
		IsFatalError: func(err error) bool {
			if ctx.Err() != nil {
				return true
			}
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				return !httpErr.Retryable()
			}
			var decodeErr *decodeError
			return errors.As(err, &decodeErr)
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Warn("request attempt failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
		Attempts:    c.policy.Attempts,
		Delay:       c.policy.Delay,
		MaxDelay:    c.policy.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "failed to decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &decodeError{err: err}
		}
	}
	return nil
}
