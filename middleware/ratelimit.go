// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CodeRateLimited is the error code of throttled requests.
const CodeRateLimited = "rate_limited"

// idleAfter is how long a client's bucket survives without requests.
const idleAfter = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client IP with a token bucket each.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time
	key   func(*http.Request) string

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

// NewRateLimiter allows rps requests per second per client with bursts of
// up to burst requests. A burst below one is raised to ceil(rps).
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = max(1, int(math.Ceil(rps)))
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		key:     GetClientIP,
		clients: make(map[string]*client),
	}
}

// KeyBy replaces the client key, which defaults to the client IP.
func (l *RateLimiter) KeyBy(key func(*http.Request) string) *RateLimiter {
	l.key = key
	return l
}

// Allow reports whether the client may make a request now.
func (l *RateLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > idleAfter {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > idleAfter {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Clients returns the number of tracked clients.
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Limit wraps a handler, answering 429 once the client's bucket is empty.
func (l *RateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	retryAfter := "1"
	if l.rps > 0 && l.rps < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / float64(l.rps))))
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(l.key(r)) {
			w.Header().Set("Retry-After", retryAfter)
			ErrorResponse(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
			return
		}
		next(w, r)
	}
}
