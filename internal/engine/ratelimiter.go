package engine

import (
	"sync"
	"time"
)

// RateLimiter is a per-webhook token bucket guarding outbound POSTs, a
// Deliverer consults it before any dispatch leaves the process.
type RateLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*tokenBucket
	maxTokens    int
	refillPeriod time.Duration
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	period     time.Duration
	lastRefill time.Time
}

// NewRateLimiter builds a limiter allowing maxRequests per period, per
// webhook id. A zero maxRequests disables rate limiting (Allow always
// returns true).
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:      make(map[string]*tokenBucket),
		maxTokens:    maxRequests,
		refillPeriod: period,
	}
}

// Allow reports whether a dispatch to webhookID may proceed right now.
func (rl *RateLimiter) Allow(webhookID string) bool {
	if rl.maxTokens <= 0 {
		return true
	}

	rl.mu.Lock()
	b, ok := rl.buckets[webhookID]
	if !ok {
		b = &tokenBucket{
			tokens:     rl.maxTokens,
			maxTokens:  rl.maxTokens,
			period:     rl.refillPeriod,
			lastRefill: time.Now(),
		}
		rl.buckets[webhookID] = b
	}
	rl.mu.Unlock()

	return b.take()
}

func (b *tokenBucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(b.lastRefill); elapsed >= b.period {
		periods := int(elapsed / b.period)
		b.tokens = min(b.tokens+periods, b.maxTokens)
		b.lastRefill = b.lastRefill.Add(time.Duration(periods) * b.period)
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Reset clears accumulated throttling state for a webhook, used when a
// disabled webhook is re-enabled.
func (rl *RateLimiter) Reset(webhookID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, webhookID)
}
