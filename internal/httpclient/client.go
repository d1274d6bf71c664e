// Package httpclient wraps net/http with bounded retries for idempotent GET requests.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/profile-email-enricher/internal/metrics"
)

const defaultMaxBodyBytes = 8 << 20

// ErrRetriesExhausted is returned when every attempt failed with a transient error.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrInvalidRequest marks requests that cannot be built, such as a malformed URL.
var ErrInvalidRequest = errors.New("invalid request")

// ErrBodyTooLarge is returned when a response body exceeds Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// StatusError reports the last retryable status seen before giving up.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Sleeper pauses between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Config controls retry and transport behavior.
type Config struct {
	MaxRetries        int
	BackoffBase       time.Duration
	RetryStatuses     []int
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxBodyBytes      int64
}

// Request describes a GET call. Endpoint is a low-cardinality label for metrics.
type Request struct {
	URL      string
	Header   http.Header
	Endpoint string
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client issues GET requests with retry on transient failures.
type Client struct {
	http         *http.Client
	policy       *ExponentialRetryPolicy
	limiter      *rate.Limiter
	sleeper      Sleeper
	maxBodyBytes int64
	logger       *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New constructs a Client.
func New(cfg Config, sleeper Sleeper, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	c := &Client{
		http:         &http.Client{Timeout: cfg.Timeout},
		policy:       NewExponentialRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.RetryStatuses),
		sleeper:      sleeper,
		maxBodyBytes: maxBody,
		logger:       logger,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs req, retrying connection failures, read failures and retryable statuses.
// Non-retryable statuses, including every 4xx, are returned to the caller as-is.
func (c *Client) Get(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			wait := c.policy.Backoff(attempt - 1)
			c.logger.Debug("retrying request",
				zap.String("endpoint", req.Endpoint),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.Error(lastErr),
			)
			metrics.ObserveRetry()
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := c.do(ctx, req)
		switch {
		case err != nil:
			if !c.policy.RetryableError(ctx, err) {
				return nil, err
			}
			lastErr = err
		case c.policy.RetryableStatus(resp.StatusCode):
			lastErr = &StatusError{StatusCode: resp.StatusCode}
		default:
			resp.Attempts = attempt + 1
			return resp, nil
		}

		if attempt >= c.policy.MaxRetries() {
			return nil, fmt.Errorf("get %s after %d attempts: %w: %w", req.Endpoint, attempt+1, ErrRetriesExhausted, lastErr)
		}
	}
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w: %w", ErrInvalidRequest, err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body failed", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	metrics.ObserveAPIRequest(req.Endpoint, resp.StatusCode, time.Since(start))
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", req.Endpoint, ErrBodyTooLarge, c.maxBodyBytes)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.sleeper == nil {
		return nil
	}
	if err := c.sleeper.Sleep(ctx, d); err != nil {
		return fmt.Errorf("retry backoff: %w", err)
	}
	return nil
}

// DefaultConfig returns the retry settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    DefaultMaxRetries,
		BackoffBase:   DefaultBackoffBase,
		RetryStatuses: DefaultRetryStatuses,
		Timeout:       30 * time.Second,
	}
}
