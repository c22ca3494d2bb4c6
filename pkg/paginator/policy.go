package paginator

import (
	"time"

	"github.com/datazip-inc/olake-github/constants"
)

// RetryPolicy bounds the retries of one page request
type RetryPolicy struct {
	// total attempts including the first one
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// rate limit waits longer than this fail immediately
	MaxRateLimitWait time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      constants.DefaultMaxAttempts,
		BaseDelay:        constants.DefaultBackoffBase,
		MaxDelay:         constants.DefaultMaxBackoff,
		MaxRateLimitWait: constants.DefaultMaxRateLimitWait,
	}
}

// Backoff returns the delay after the given failed attempt (1 based): base doubled per attempt,
// capped at MaxDelay
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) normalized() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaults.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.MaxRateLimitWait <= 0 {
		p.MaxRateLimitWait = defaults.MaxRateLimitWait
	}
	return p
}
