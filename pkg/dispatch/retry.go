package dispatch

import "time"

// RetryPolicy governs re-dispatch after total channel failure. Backoff is
// exponential from InitialBackoff, capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
}

// DefaultRetryPolicy returns the default dispatch retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     30 * time.Minute,
		BackoffFactor:  2.0,
	}
}

// CalculateBackoff returns the delay before the given retry attempt.
// Attempt 1 is the first retry.
func (p RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialBackoff
	}

	backoff := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		if backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

// Exhausted reports whether the attempt count has spent the retry budget.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
