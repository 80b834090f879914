package crawler

import (
	"math"
	"time"
)

// ExponentialRetryPolicy implements RetryPolicy with capped exponential
// backoff. Delays are deterministic: attempt n waits
// baseDelay * multiplier^(n-1), capped at maxDelay.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	multiplier  float64
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxAttempts: 3,
		baseDelay:   250 * time.Millisecond,
		multiplier:  2,
		maxDelay:    5 * time.Second,
	}
}

// NewRetryPolicy builds a policy from explicit parameters, falling back to
// defaults for out-of-range values.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration, multiplier float64, maxDelay time.Duration) *ExponentialRetryPolicy {
	p := NewExponentialRetryPolicy()
	if maxAttempts > 0 {
		p.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		p.baseDelay = baseDelay
	}
	if multiplier >= 1 {
		p.multiplier = multiplier
	}
	if maxDelay > 0 {
		p.maxDelay = maxDelay
	}
	return p
}

// MaxAttempts returns the total attempt budget, including the first try.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether the failed attempt should be re-run.
// Non-transient failures fail immediately without consuming retry budget.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	return IsTransient(err)
}

// Backoff returns the wait duration before the next attempt. attempt is
// 1-based: the delay after the first failed attempt is baseDelay.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(p.multiplier, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay)
}
