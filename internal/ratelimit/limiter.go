package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// DomainLimiters holds one token bucket limiter per sync domain.
// Each limiter enforces a steady-state rate against the remote API so a
// large drain after a long offline stretch does not hammer the backend.
// Burst is set equal to the rate so no extra burst capacity is allowed
// beyond the configured per-second maximum.
//
// The domain set is open (executors are registered at runtime), so
// limiters are created lazily on first use.
type DomainLimiters struct {
	mu         sync.Mutex
	ratePerSec int
	limiters   map[string]*rate.Limiter
}

// New creates a DomainLimiters with ratePerSec tokens per second per domain.
func New(ratePerSec int) *DomainLimiters {
	return &DomainLimiters{
		ratePerSec: ratePerSec,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the domain's limiter grants a token.
// Called by the processor immediately before dispatching to the executor.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (dl *DomainLimiters) Wait(ctx context.Context, domainTag string) error {
	dl.mu.Lock()
	limiter, ok := dl.limiters[domainTag]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(dl.ratePerSec), dl.ratePerSec)
		dl.limiters[domainTag] = limiter
	}
	dl.mu.Unlock()

	return limiter.Wait(ctx)
}
