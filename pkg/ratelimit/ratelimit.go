// Package ratelimit throttles gflowd's mutating API routes, keyed per
// caller so one misbehaving script submitting or cancelling in a tight
// loop cannot starve everyone else on the same workstation. Read-only
// GET routes are not limited. Submission traffic on a shared
// GPU box is bursty by nature — a sweep script fires off dozens of gflow
// submit calls back to back — so limits are tuned to absorb a burst
// rather than smooth it away.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter tracks one token bucket per key (by default, per client IP;
// gflowd only listens on loopback so in practice this mostly separates
// concurrent CLI invocations from each other).
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rps      rate.Limit
	burst    int
}

// NewLimiter builds a Limiter allowing rps sustained requests per second
// per key, with room for burst requests above that before throttling
// kicks in. gflowd's default config (see cfg.RateLimitRPS/RateLimitBurst)
// sets these generously enough that a normal submit-then-poll workflow
// never trips it.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// GetLimiter returns the bucket for key, creating it on first use.
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = limiter
	}

	return limiter
}

// Allow reports whether a request from key may proceed right now,
// consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	return l.GetLimiter(key).Allow()
}

// Middleware wraps an http.Handler, rejecting requests over the limit
// with 429. gflowd installs this ahead of every mutating POST route in
// pkg/api's router; GET routes are not wrapped.
func (l *Limiter) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)

			if !l.Allow(key) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CleanupOldLimiters is a placeholder for bounding the per-key map's
// growth on a long-running daemon serving many distinct callers; gflowd's
// caller set (loopback CLI processes) is small enough in practice that
// this has not needed implementing.
func (l *Limiter) CleanupOldLimiters(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
}

// IPKeyFunc keys by the requesting IP, preferring X-Forwarded-For when a
// reverse proxy sits in front of gflowd (some deployments put nginx
// between a lab's shared workstation and the outside network so gflowd
// itself never has to bind beyond loopback).
func IPKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}

// APIKeyFunc keys by the Authorization header, for a deployment that
// fronts gflowd with per-user API tokens instead of relying on network
// isolation alone.
func APIKeyFunc(r *http.Request) string {
	return r.Header.Get("Authorization")
}
