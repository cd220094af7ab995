package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or the
	// context is cancelled
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

// TokenBucket implements a token bucket rate limiter with a shared penalty
// delay. The penalty is raised by rate-limit signals from any request and
// slows down every subsequent request until it decays after a cooldown.
type TokenBucket struct {
	capacity     int           // Maximum number of tokens
	tokens       int           // Current number of tokens
	refillPeriod time.Duration // Period after which bucket is refilled
	lastRefill   time.Time     // Last time the bucket was refilled

	penalty     time.Duration // Extra delay applied to every request
	maxPenalty  time.Duration
	cooldown    time.Duration // Quiet period after which the penalty clears
	lastPenalty time.Time

	mu sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
		maxPenalty:   time.Minute,
		cooldown:     2 * time.Minute,
	}
}

// SetPenaltyBounds configures the penalty ceiling and the cooldown after
// which an unrefreshed penalty expires.
func (tb *TokenBucket) SetPenaltyBounds(maxPenalty, cooldown time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if maxPenalty > 0 {
		tb.maxPenalty = maxPenalty
	}
	if cooldown > 0 {
		tb.cooldown = cooldown
	}
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 && tb.currentPenalty() == 0 {
		tb.tokens--
		return true
	}

	return false
}

// Wait blocks until a token is available and any shared penalty delay has
// been served, or until ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		penalty := tb.currentPenalty()
		if tb.tokens > 0 && penalty == 0 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		delay := penalty
		if tb.tokens == 0 {
			if untilRefill := tb.refillPeriod - time.Since(tb.lastRefill); untilRefill > delay {
				delay = untilRefill
			}
		}
		tb.mu.Unlock()

		if delay <= 0 {
			// Small sleep to prevent busy waiting
			delay = 100 * time.Millisecond
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

// Penalize raises the shared delay in response to a rate-limit signal.
// Repeated signals grow the delay monotonically up to the configured
// ceiling; the delay expires after the cooldown passes with no new signal.
func (tb *TokenBucket) Penalize(d time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if d <= 0 {
		d = time.Second
	}
	next := tb.currentPenalty() * 2
	if next < d {
		next = d
	}
	if next > tb.maxPenalty {
		next = tb.maxPenalty
	}
	tb.penalty = next
	tb.lastPenalty = time.Now()
}

// PenaltyDelay reports the delay currently applied to every request.
func (tb *TokenBucket) PenaltyDelay() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.currentPenalty()
}

// Reset resets the token bucket to full capacity and clears any penalty
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
	tb.penalty = 0
}

// currentPenalty returns the active penalty, clearing it once the cooldown
// has elapsed. Caller must hold tb.mu.
func (tb *TokenBucket) currentPenalty() time.Duration {
	if tb.penalty > 0 && time.Since(tb.lastPenalty) > tb.cooldown {
		tb.penalty = 0
	}
	return tb.penalty
}

// refill adds tokens based on elapsed time. Caller must hold tb.mu.
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	if elapsed >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}
}
