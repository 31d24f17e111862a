package outbox

import "time"

// Policy is the retry budget and backoff curve applied to transient
// failures. Pure data; Delay is a pure function of the attempt count.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps the exponential growth.
	Max time.Duration
	// AttemptLimit is the total number of executions an item gets before
	// it is marked failed.
	AttemptLimit int
}

// DefaultPolicy matches the app's shipped retry behaviour: 1s base,
// 30s cap, five attempts.
func DefaultPolicy() Policy {
	return Policy{
		Base:         time.Second,
		Max:          30 * time.Second,
		AttemptLimit: 5,
	}
}

// Delay returns min(base × 2^attempt, max).
//
// The delay is advisory: an independently triggered drain (connectivity
// returning, manual retry) may pick the item up sooner, which only means
// an attempt is consumed earlier, never an extra one.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Shifting past 62 bits overflows time.Duration long before Max matters.
	if attempt > 62 {
		return p.Max
	}
	d := p.Base << uint(attempt)
	if d <= 0 || d > p.Max {
		return p.Max
	}
	return d
}
