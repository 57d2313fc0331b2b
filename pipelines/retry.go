package pipelines

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides how long to wait before the next cycle.
type RetryPolicy struct {
	interval time.Duration
	failure  backoff.BackOff
}

// NewRetryPolicy waits interval after successes and failures alike, with
// no limit on consecutive failures.
func NewRetryPolicy(interval time.Duration) *RetryPolicy {
	return NewRetryPolicyWithBackOff(interval, backoff.NewConstantBackOff(interval))
}

func NewRetryPolicyWithBackOff(interval time.Duration, failure backoff.BackOff) *RetryPolicy {
	return &RetryPolicy{interval: interval, failure: failure}
}

func (r *RetryPolicy) Next(err error) time.Duration {
	if err == nil {
		r.failure.Reset()
		return r.interval
	}
	d := r.failure.NextBackOff()
	if d == backoff.Stop {
		r.failure.Reset()
		return r.interval
	}
	return d
}
