package queue

import (
	"errors"
	"math/rand/v2"
	"time"
)

// DefaultRetrySchedule spaces delivery attempts out over roughly twenty
// minutes, long enough to ride out a provider outage or a rate limit window.
var DefaultRetrySchedule = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// ErrPermanent marks a job failure that no retry can fix, such as a rejected
// recipient or a revoked API key.
var ErrPermanent = errors.New("queue: permanent failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent wraps err so the job skips the remaining retries and goes
// straight to the dead letter queue. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryStrategy decides whether a failed delivery job runs again and how long
// it waits first.
type RetryStrategy struct {
	MaxRetries int
	Schedule   []time.Duration
}

// NewRetryStrategy returns a strategy allowing maxRetries attempts. Without a
// schedule DefaultRetrySchedule is used.
func NewRetryStrategy(maxRetries int, schedule ...time.Duration) *RetryStrategy {
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	return &RetryStrategy{MaxRetries: maxRetries, Schedule: schedule}
}

// ShouldRetry reports whether the job has retry budget left.
func (r *RetryStrategy) ShouldRetry(retryCount int) bool {
	return retryCount < r.MaxRetries
}

// Retryable reports whether a job that failed with err after retryCount
// attempts runs again.
func (r *RetryStrategy) Retryable(err error, retryCount int) bool {
	if errors.Is(err, ErrPermanent) {
		return false
	}
	return r.ShouldRetry(retryCount)
}

// NextBackoff returns the wait before attempt retryCount+1. The schedule
// entry is scaled by a random factor in [0.5, 1) so jobs failing together
// do not come back together; counts past the end reuse the last entry.
func (r *RetryStrategy) NextBackoff(retryCount int) time.Duration {
	if len(r.Schedule) == 0 {
		return 0
	}
	step := r.Schedule[min(max(retryCount, 0), len(r.Schedule)-1)]
	return time.Duration(float64(step) * (0.5 + rand.Float64()*0.5))
}
