package feed

import "time"

// allowJitter absorbs ticker drift so a backoff equal to the poll interval
// does not skip the very next tick.
const allowJitter = time.Second

// RetryPolicy is an exponential backoff over transient fetch failures:
// after n consecutive failures the next scheduled attempt waits
// min(Base*2^(n-1), Max). It is not safe for concurrent use.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration

	failures int
	next     time.Time
}

// NewRetryPolicy returns a policy with the given bounds. Max is raised to Base if lower.
func NewRetryPolicy(base, max time.Duration) *RetryPolicy {
	if base <= 0 {
		base = time.Minute
	}
	if max < base {
		max = base
	}
	return &RetryPolicy{Base: base, Max: max}
}

// Allow reports whether a scheduled attempt may run at now.
func (p *RetryPolicy) Allow(now time.Time) bool {
	if p.failures == 0 {
		return true
	}
	return !now.Add(allowJitter).Before(p.next)
}

// RecordFailure registers a transient failure at now and returns the wait before the next attempt.
func (p *RetryPolicy) RecordFailure(now time.Time) time.Duration {
	p.failures++
	d := p.Backoff(p.failures)
	p.next = now.Add(d)
	return d
}

// RecordSuccess clears the failure streak.
func (p *RetryPolicy) RecordSuccess() {
	p.failures = 0
	p.next = time.Time{}
}

// Failures returns the current consecutive failure count.
func (p *RetryPolicy) Failures() int {
	return p.failures
}

// Backoff returns the wait after n consecutive failures.
func (p *RetryPolicy) Backoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < n; i++ {
		if d >= p.Max/2 {
			return p.Max
		}
		d *= 2
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
