package httpclient

import (
	"fmt"
	"time"
)

// BackoffMultiplier is applied to the base delay after every retried attempt
const BackoffMultiplier = 2

// RetryPolicy controls how many attempts are made and how long to wait between them.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int
	// InitialDelay is the base delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps both the base delay and the jittered delay
	MaxDelay time.Duration
	// JitterFraction in [0, 1] scales the random perturbation of each delay
	JitterFraction float64
	// DetectOverloaded enables error-body inspection on 4xx and 5xx responses
	DetectOverloaded bool
}

// DefaultRetryPolicy returns the policy used when callers have no preference
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialDelay:   2 * time.Second,
		MaxDelay:       60 * time.Second,
		JitterFraction: 0.1,
	}
}

// Validate checks the policy bounds
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return NewValidationError(fmt.Sprintf("max attempts must be at least 1, got %d", p.MaxAttempts), "max_attempts")
	case p.InitialDelay < 0:
		return NewValidationError(fmt.Sprintf("initial delay must not be negative, got %s", p.InitialDelay), "initial_delay")
	case p.MaxDelay < 0:
		return NewValidationError(fmt.Sprintf("max delay must not be negative, got %s", p.MaxDelay), "max_delay")
	case p.JitterFraction < 0 || p.JitterFraction > 1:
		return NewValidationError(fmt.Sprintf("jitter fraction must be within [0, 1], got %g", p.JitterFraction), "jitter_fraction")
	}
	return nil
}

// jitteredDelay perturbs delay by up to JitterFraction of itself in either
// direction. u must be uniform in [0, 1). The result is clamped to [0, MaxDelay].
func (p RetryPolicy) jitteredDelay(delay time.Duration, u float64) time.Duration {
	jitter := (2*u - 1) * p.JitterFraction * float64(delay)
	actual := time.Duration(float64(delay) + jitter)
	if actual > p.MaxDelay {
		actual = p.MaxDelay
	}
	if actual < 0 {
		actual = 0
	}
	return actual
}

// nextDelay grows the base delay geometrically up to MaxDelay
func (p RetryPolicy) nextDelay(delay time.Duration) time.Duration {
	next := delay * BackoffMultiplier
	if next > p.MaxDelay || next < delay {
		return p.MaxDelay
	}
	return next
}
