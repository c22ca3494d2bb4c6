package paginator

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// authenticated REST quota per hour
	GitHubRateLimit = 5000

	// proactive throttle that stays below GitHubRateLimit
	DefaultRequestsPerSecond = 1.35

	// remaining requests kept in reserve before waiting for the reset
	MinBuffer = 10

	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderRetryAfter    = "Retry-After"
)

// RateLimiter throttles requests with a token bucket and waits for the quota reset once the
// remaining requests reported by the API fall below the reserve
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	limit     int
	resetTime time.Time
	bucket    *rate.Limiter
	minBuffer int
}

// NewRateLimiter accepts rate.Inf to disable the proactive throttle
func NewRateLimiter(requestsPerSecond rate.Limit, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		remaining: GitHubRateLimit,
		limit:     GitHubRateLimit,
		bucket:    rate.NewLimiter(requestsPerSecond, burst),
		minBuffer: MinBuffer,
	}
}

// Throttle blocks on the token bucket
func (r *RateLimiter) Throttle(ctx context.Context) error {
	return r.bucket.Wait(ctx)
}

// QuotaWait returns how long to wait before the next request is safe given the last known quota
func (r *RateLimiter) QuotaWait(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remaining < r.minBuffer && now.Before(r.resetTime) {
		return r.resetTime.Sub(now)
	}
	return 0
}

// UpdateFromResponse records the quota headers of a response
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if remaining := resp.Header.Get(HeaderRateRemaining); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			r.remaining = val
		}
	}

	if limit := resp.Header.Get(HeaderRateLimit); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			r.limit = val
		}
	}

	if reset := resp.Header.Get(HeaderRateReset); reset != "" {
		if val, err := strconv.ParseInt(reset, 10, 64); err == nil {
			r.resetTime = time.Unix(val, 0)
		}
	}
}

func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}

// Limit is the proactive throttle in requests per second
func (r *RateLimiter) Limit() rate.Limit {
	return r.bucket.Limit()
}

func (r *RateLimiter) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("%d/%d (reset %s)", r.remaining, r.limit, r.resetTime.UTC().Format(time.RFC3339))
}

// retryAfter computes the wait requested by a rate limited response; zero when the response
// carries no hint
func retryAfter(resp *http.Response, now time.Time) time.Duration {
	if resp == nil {
		return 0
	}

	if value := resp.Header.Get(HeaderRetryAfter); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	if value := resp.Header.Get(HeaderRateReset); value != "" {
		if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
			wait := time.Unix(epoch, 0).Sub(now)
			if wait > 0 {
				// reset is reported in whole seconds
				return wait + time.Second
			}
		}
	}

	return 0
}
