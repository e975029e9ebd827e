// Package security implements request throttling, IP allowlisting, and
// input validation shared by the Mobile Gateway and Bridge Tunnel.
package security

import (
	"fmt"
	"sync"
	"time"
)

const windowSeconds = 60

// rateLimitEntry tracks one identifier's sliding window.
type rateLimitEntry struct {
	requestCount int
	windowStart  time.Time
	blockedUntil time.Time
}

func (e *rateLimitEntry) isBlocked(now time.Time) bool {
	return now.Before(e.blockedUntil)
}

// RateLimiter implements a sliding-window rate limit per identifier
// (device_id or IP address), with a fixed one-minute window and a
// configurable block duration once the window's budget is exceeded.
type RateLimiter struct {
	requestsPerMinute   int
	blockDurationSeconds int

	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	RequestsPerMinute    int
	BlockDurationSeconds int
}

// NewRateLimiter builds a RateLimiter. Zero values fall back to 60
// requests/minute and a 300 second block.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	block := cfg.BlockDurationSeconds
	if block <= 0 {
		block = 300
	}
	return &RateLimiter{
		requestsPerMinute:    rpm,
		blockDurationSeconds: block,
		entries:              make(map[string]*rateLimitEntry),
	}
}

// Check reports whether a request from identifier should be allowed. If
// not, the returned error describes why (currently blocked, or limit just
// exceeded).
func (r *RateLimiter) Check(identifier string) (bool, error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[identifier]

	if ok && entry.isBlocked(now) {
		remaining := int(entry.blockedUntil.Sub(now).Seconds())
		return false, fmt.Errorf("rate limit exceeded, blocked for %d more seconds", remaining)
	}

	if !ok || now.Sub(entry.windowStart) >= windowSeconds*time.Second {
		r.entries[identifier] = &rateLimitEntry{requestCount: 1, windowStart: now}
		return true, nil
	}

	entry.requestCount++
	if entry.requestCount > r.requestsPerMinute {
		entry.blockedUntil = now.Add(time.Duration(r.blockDurationSeconds) * time.Second)
		return false, fmt.Errorf("rate limit exceeded, blocked for %d seconds", r.blockDurationSeconds)
	}

	return true, nil
}

// Reset clears any rate limit state for identifier.
func (r *RateLimiter) Reset(identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, identifier)
}

// Stats reports the current count/blocked state for an identifier.
type Stats struct {
	RequestCount int
	Blocked      bool
	BlockedUntil time.Time
}

// Stats returns the current rate-limit state for identifier.
func (r *RateLimiter) Stats(identifier string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[identifier]
	if !ok {
		return Stats{}
	}

	now := time.Now()
	blocked := entry.isBlocked(now)
	s := Stats{RequestCount: entry.requestCount, Blocked: blocked}
	if blocked {
		s.BlockedUntil = entry.blockedUntil
	}
	return s
}

// Sweep removes entries that have been idle for more than twice the
// sliding window and are not currently blocked, bounding memory for
// identifiers that never return without lifting an active block early.
// Intended to run on a cron schedule (once a minute) in the caller.
func (r *RateLimiter) Sweep() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.entries {
		if now.Sub(entry.windowStart) > 2*windowSeconds*time.Second && !entry.isBlocked(now) {
			delete(r.entries, id)
		}
	}
}
