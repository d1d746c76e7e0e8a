// ratelimit.go implements token-bucket rate limiting for the Kalshi trade API.
//
// Kalshi enforces a per-key requests-per-second limit. A single smooth
// token bucket (capacity = rate, continuous refill) gates the request
// worker so the long-run throughput never exceeds the configured rate
// while still allowing bursts up to one second's worth of tokens.
package kalshi

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Acquire() until a token is available or the context is
// cancelled. The signed client consults it from a single serial worker;
// under that discipline it exactly enforces the configured rate.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with capacity equal to the refill
// rate, i.e. a burst allowance of one second of requests.
func NewTokenBucket(ratePerSecond float64) (*TokenBucket, error) {
	if ratePerSecond <= 0 {
		return nil, fmt.Errorf("rate must be > 0, got %v", ratePerSecond)
	}
	return &TokenBucket{
		tokens:   ratePerSecond,
		capacity: ratePerSecond,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}, nil
}

// Acquire blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Acquire(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Sleep until one full token would exist.
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}
