package webhookapi

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig configures the admin API's inbound request limiter.
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed per client in WindowDuration.
	RequestsPerWindow int
	WindowDuration    time.Duration
	BurstSize         int
}

// DefaultRateLimitConfig matches the admin surface's expected call volume:
// a handful of operators and CI jobs polling /webhooks and /errors/stream.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 120,
		WindowDuration:    time.Minute,
		BurstSize:         20,
	}
}

// rateLimiter is a token bucket keyed by client identity, adapted from
// a token-bucket rate limiter. The admin API has no
// per-user/per-bot distinction the way the registry's multi-tenant surface
// did, so this keeps a single bucket set keyed by client IP.
type rateLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		config:  cfg,
		buckets: make(map[string]*bucket),
	}
}

func (rl *rateLimiter) allow(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     rl.config.RequestsPerWindow + rl.config.BurstSize,
			lastUpdate: time.Now(),
		}
		rl.buckets[key] = b
	}

	now := time.Now()
	elapsed := now.Sub(b.lastUpdate)
	tokensToAdd := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		maxTokens := rl.config.RequestsPerWindow + rl.config.BurstSize
		b.tokens += tokensToAdd
		if b.tokens > maxTokens {
			b.tokens = maxTokens
		}
		b.lastUpdate = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, b.tokens
	}
	return false, 0
}

// Cleanup drops buckets that have been idle for two windows, bounding memory
// for an admin API whose client set turns over slowly.
func (rl *rateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-2 * rl.config.WindowDuration)
	for key, b := range rl.buckets {
		if b.lastUpdate.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// RateLimitMiddleware returns mux middleware enforcing cfg against each
// request's client IP, adding standard X-RateLimit-* response headers.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	limiter := newRateLimiter(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			allowed, remaining := limiter.allow(key)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(cfg.WindowDuration).Unix()))

			if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", cfg.WindowDuration.Seconds()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return r.RemoteAddr
}
