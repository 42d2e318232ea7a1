package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yash/gateboard/internal/metrics"
)

const (
	defaultBaseURL   = "http://api.aviationstack.com/v1"
	defaultAccessKey = "demo"

	// Connection pool settings
	maxIdleConns        = 10
	maxConnsPerHost     = 5
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	defaultTimeout      = 10 * time.Second

	// Retry settings
	defaultMaxRetries = 1
	baseBackoff       = 500 * time.Millisecond
	maxBackoff        = 5 * time.Second
	backoffFactor     = 2.0

	// Upper bound on a response body.
	maxBodyBytes = 8 << 20
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// APIError is the application-level error object the flight API embeds in
// an otherwise successful response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %q", e.Code)
	}
	return fmt.Sprintf("api error %q: %s", e.Code, e.Message)
}

// StatusError reports a non-200 HTTP response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// ---------------------------------------------------------------------------
// Rate Limiter
// ---------------------------------------------------------------------------

// RateLimiter spaces out calls so upstream quotas are not exhausted.
type RateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	lastCall time.Time
}

// NewRateLimiter creates a rate limiter with the given interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// Wait blocks until the next call is allowed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastCall.IsZero() {
		r.lastCall = time.Now()
		return nil
	}

	if wait := r.interval - time.Since(r.lastCall); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.lastCall = time.Now()
	return nil
}

// ---------------------------------------------------------------------------
// Client with Connection Pooling
// ---------------------------------------------------------------------------

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL sets the API root, e.g. an httptest server in tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithAccessKey sets the API key. An empty key falls back to "demo".
func WithAccessKey(key string) ClientOption {
	return func(c *Client) { c.accessKey = key }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxRetries sets how many times a failed request is retried.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the initial and maximum retry delay.
func WithBackoff(initial, limit time.Duration) ClientOption {
	return func(c *Client) {
		c.backoff, c.maxBackoff = initial, limit
	}
}

// Client fetches flights from an aviationstack-compatible API.
type Client struct {
	baseURL    string
	accessKey  string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewClient creates an API client with connection pooling.
func NewClient(opts ...ClientOption) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
	}

	c := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
		maxRetries: defaultMaxRetries,
		backoff:    baseBackoff,
		maxBackoff: maxBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.accessKey == "" {
		c.accessKey = defaultAccessKey
	}

	return c
}

// flightsResponse mirrors the JSON envelope returned by /flights.
type flightsResponse struct {
	Data  []RawFlight `json:"data"`
	Error *APIError   `json:"error,omitempty"`
}

// fetchOnce performs a single request for flights departing code.
func (c *Client) fetchOnce(ctx context.Context, code string) ([]RawFlight, error) {
	q := url.Values{}
	q.Set("access_key", c.accessKey)
	q.Set("dep_iata", strings.ToUpper(code))
	endpoint := c.baseURL + "/flights?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	metrics.UpstreamRequests.Inc()
	defer metrics.UpstreamLatency.ObserveSince(start)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	var raw flightsResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if raw.Error != nil {
		return nil, raw.Error
	}
	if raw.Data == nil {
		raw.Data = []RawFlight{}
	}
	return raw.Data, nil
}

// FetchFlights retrieves flights departing code, retrying transient
// failures with exponential backoff.
func (c *Client) FetchFlights(ctx context.Context, code string) ([]RawFlight, error) {
	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
			// Exponential backoff with cap
			backoff = min(time.Duration(float64(backoff)*backoffFactor), c.maxBackoff)
		}

		flights, err := c.fetchOnce(ctx, code)
		if err == nil {
			return flights, nil
		}
		metrics.UpstreamFailures.Inc()
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr)
}
