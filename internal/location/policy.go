package location

import (
	"math"
	"math/rand"
	"time"
)

// Policy decides when the next upstream request for a location may happen.
type Policy struct {
	// MinInterval is the floor under an upstream expiry hint.
	MinInterval time.Duration
	// DefaultInterval applies after a success without a usable expiry hint.
	DefaultInterval time.Duration
	// BackoffBase is the delay after the first failure; it doubles per failure.
	BackoffBase time.Duration
	// BackoffMax caps the failure delay.
	BackoffMax time.Duration
	// Jitter adds up to this fraction of the delay on failure. 0 disables it.
	Jitter float64

	rand func() float64
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MinInterval:     time.Minute,
		DefaultInterval: 5 * time.Minute,
		BackoffBase:     time.Minute,
		BackoffMax:      30 * time.Minute,
		Jitter:          0.1,
	}
}

// AfterSuccess returns notBefore after a 200 or 304. The upstream expiry wins
// when it lies further ahead than MinInterval; otherwise DefaultInterval applies.
func (p Policy) AfterSuccess(now, expires time.Time) time.Time {
	if !expires.IsZero() && expires.Sub(now) > p.MinInterval {
		return expires
	}
	return now.Add(p.DefaultInterval)
}

// AfterFailure returns notBefore after the given number of consecutive
// failures. It never moves notBefore backwards.
func (p Policy) AfterFailure(now, prev time.Time, failures int) time.Time {
	next := now.Add(p.backoff(failures))
	if next.Before(prev) {
		return prev
	}
	return next
}

func (p Policy) backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := float64(p.BackoffBase) * math.Pow(2, float64(failures-1))
	if delay > float64(p.BackoffMax) {
		delay = float64(p.BackoffMax)
	}
	if p.Jitter > 0 {
		r := rand.Float64
		if p.rand != nil {
			r = p.rand
		}
		delay += delay * p.Jitter * r()
	}
	return time.Duration(delay)
}
