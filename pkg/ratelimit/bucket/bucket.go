package bucket

import (
	"math"
	"time"
)

// Consume takes amount tokens if they are available and reports whether it
// did. On failure the token level is left untouched; the caller should wait
// for Delay(amount) and try again.
func (tb *TokenBucket) Consume(amount float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())

	if amount <= tb.tokens {
		tb.tokens -= amount
		return true
	}
	return false
}

// Delay estimates how long until amount tokens could be available.
//
// It does not refill: when the last known level already exceeds amount it
// returns zero, otherwise (amount-tokens)/fillRate rounded up to the next
// nanosecond. The result is a hint; concurrent consumers may take the tokens
// first, so callers loop on Consume.
func (tb *TokenBucket) Delay(amount float64) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.tokens > amount {
		return 0
	}
	seconds := (amount - tb.tokens) / tb.fillRate
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

// Tokens returns the number of tokens currently available.
func (tb *TokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())
	return tb.tokens
}

// Name returns the bucket label.
func (tb *TokenBucket) Name() string {
	return tb.name
}

// Capacity returns the maximum number of tokens.
func (tb *TokenBucket) Capacity() float64 {
	return tb.capacity
}

// FillRate returns the refill rate in tokens per second.
func (tb *TokenBucket) FillRate() float64 {
	return tb.fillRate
}

// refill adds tokens for the time elapsed since the last access. A full
// bucket gains nothing, but the timestamp still moves to now so that time
// spent full is never credited later.
func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.timestamp)
	if elapsed < 0 {
		return
	}
	if tb.tokens < tb.capacity {
		tb.tokens = math.Min(tb.capacity, tb.tokens+tb.fillRate*elapsed.Seconds())
	}
	tb.timestamp = now
}
