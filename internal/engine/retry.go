package engine

import (
	"errors"
	"time"
)

// DefaultRetryDelays is the backoff table used when none is configured.
var DefaultRetryDelays = []time.Duration{
	1 * time.Minute,
	1440 * time.Minute,
	2880 * time.Minute,
	4320 * time.Minute,
}

// RetryPolicy maps a failed attempt count to the delay before the next attempt.
// It is immutable after construction and safe to share.
type RetryPolicy struct {
	delays      []time.Duration
	maxAttempts int
}

// NewRetryPolicy copies delays. maxAttempts <= 0 means one attempt per table entry.
func NewRetryPolicy(delays []time.Duration, maxAttempts int) (RetryPolicy, error) {
	if len(delays) == 0 {
		return RetryPolicy{}, errors.New("retry policy needs at least one delay")
	}
	for _, d := range delays {
		if d <= 0 {
			return RetryPolicy{}, errors.New("retry delays must be positive")
		}
	}
	if maxAttempts <= 0 {
		maxAttempts = len(delays)
	}

	table := make([]time.Duration, len(delays))
	copy(table, delays)

	return RetryPolicy{delays: table, maxAttempts: maxAttempts}, nil
}

func DefaultRetryPolicy() RetryPolicy {
	p, _ := NewRetryPolicy(DefaultRetryDelays, 0)
	return p
}

func (p RetryPolicy) MaxAttempts() int { return p.maxAttempts }

// Delay returns the table entry for attempt (1-based). The last entry is reused past the end.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	idx := min(attempt-1, len(p.delays)-1)
	if idx < 0 {
		idx = 0
	}
	return p.delays[idx]
}

// NextRetryAt computes when an installment that has failed attempt times may be retried.
// ok is false once attempts exceed the policy's maximum; the installment is then unresolved.
func (p RetryPolicy) NextRetryAt(attempt int, now time.Time) (next time.Time, ok bool) {
	if attempt > p.maxAttempts {
		return time.Time{}, false
	}
	return now.Add(p.Delay(attempt)), true
}
