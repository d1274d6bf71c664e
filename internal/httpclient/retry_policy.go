package httpclient

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"
)

// Defaults: three retries with a 0.3s exponential base.
const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 300 * time.Millisecond
)

// DefaultRetryStatuses are the server errors treated as transient.
var DefaultRetryStatuses = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusGatewayTimeout,
}

// ExponentialRetryPolicy decides which failures are retried and how long to wait.
type ExponentialRetryPolicy struct {
	maxRetries  int
	baseDelay   time.Duration
	retryStatus map[int]struct{}
}

// NewExponentialRetryPolicy builds a policy. Zero or negative values fall back to defaults.
func NewExponentialRetryPolicy(maxRetries int, baseDelay time.Duration, statuses []int) *ExponentialRetryPolicy {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBackoffBase
	}
	if len(statuses) == 0 {
		statuses = DefaultRetryStatuses
	}
	set := make(map[int]struct{}, len(statuses))
	for _, code := range statuses {
		set[code] = struct{}{}
	}
	return &ExponentialRetryPolicy{
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		retryStatus: set,
	}
}

// MaxRetries reports how many retries follow the first attempt.
func (p *ExponentialRetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// RetryableStatus reports whether a response status is transient.
func (p *ExponentialRetryPolicy) RetryableStatus(code int) bool {
	_, ok := p.retryStatus[code]
	return ok
}

// RetryableError reports whether a transport error is worth another attempt.
// Cancellation of the caller's context is final.
func (p *ExponentialRetryPolicy) RetryableError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Repeating these cannot change the outcome.
	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrBodyTooLarge) {
		return false
	}
	return true
}

// Backoff returns the wait before retry number retry (0-based): base, 2*base, 4*base...
func (p *ExponentialRetryPolicy) Backoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	return time.Duration(float64(p.baseDelay) * math.Pow(2, float64(retry)))
}
