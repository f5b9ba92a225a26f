package delivery

import "time"

// RetryPolicy is a fixed two-tier backoff bounded by a wall-clock budget
// measured from the first time a message was queued.
type RetryPolicy struct {
	Budget        time.Duration
	ShortDelay    time.Duration
	LongDelay     time.Duration
	ShortAttempts int // attempts up to and including this count use ShortDelay
}

var DefaultRetryPolicy = RetryPolicy{
	Budget:        24 * time.Hour,
	ShortDelay:    2 * time.Minute,
	LongDelay:     10 * time.Minute,
	ShortAttempts: 3,
}

// WithDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.Budget <= 0 {
		p.Budget = DefaultRetryPolicy.Budget
	}
	if p.ShortDelay <= 0 {
		p.ShortDelay = DefaultRetryPolicy.ShortDelay
	}
	if p.LongDelay <= 0 {
		p.LongDelay = DefaultRetryPolicy.LongDelay
	}
	if p.ShortAttempts <= 0 {
		p.ShortAttempts = DefaultRetryPolicy.ShortAttempts
	}
	return p
}

// Delay returns the backoff for the given attempt count.
func (p RetryPolicy) Delay(attemptCount int) time.Duration {
	if attemptCount <= p.ShortAttempts {
		return p.ShortDelay
	}
	return p.LongDelay
}

// NextRetryTime returns the next attempt time, or false once the budget is spent
// or the candidate would land outside it.
func (p RetryPolicy) NextRetryTime(attemptCount int, firstQueuedAt, now time.Time) (time.Time, bool) {
	if now.Sub(firstQueuedAt) >= p.Budget {
		return time.Time{}, false
	}
	candidate := now.Add(p.Delay(attemptCount))
	if candidate.Sub(firstQueuedAt) > p.Budget {
		return time.Time{}, false
	}
	return candidate, true
}

// NextRetryTime applies DefaultRetryPolicy.
func NextRetryTime(attemptCount int, firstQueuedAt, now time.Time) (time.Time, bool) {
	return DefaultRetryPolicy.NextRetryTime(attemptCount, firstQueuedAt, now)
}
