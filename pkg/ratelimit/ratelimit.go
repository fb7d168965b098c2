// Package ratelimit holds the in-memory limiters used by the gateway.
//
// FailureLimiter counts failed credential checks per client IP inside a fixed
// window. Once the count reaches the limit further handshakes from that IP are
// refused until the window passes. A successful handshake clears the counter.
//
// State is process local; the gateway is single instance by design.
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

type bucket struct {
	count       int
	windowStart time.Time
}

// FailureLimiter tracks failed attempts per key (usually an IP address).
//
//	limiter := NewFailureLimiter(10, time.Minute)
//	if limiter.Blocked(ip) { return 429 }
//	if bad credential { limiter.RecordFailure(ip); return 401 }
//	limiter.Reset(ip)
type FailureLimiter struct {
	mu          sync.RWMutex
	buckets     map[string]*bucket
	maxFailures int
	window      time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewFailureLimiter starts the limiter together with its cleanup goroutine.
func NewFailureLimiter(maxFailures int, window time.Duration) *FailureLimiter {
	rl := &FailureLimiter{
		buckets:     make(map[string]*bucket),
		maxFailures: maxFailures,
		window:      window,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Blocked reports whether key has used up its failures for the current window.
func (rl *FailureLimiter) Blocked(key string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, ok := rl.buckets[key]
	if !ok || time.Since(b.windowStart) > rl.window {
		return false
	}
	return b.count >= rl.maxFailures
}

// RecordFailure counts one failed attempt for key.
func (rl *FailureLimiter) RecordFailure(key string) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.windowStart) > rl.window {
		rl.buckets[key] = &bucket{count: 1, windowStart: now}
		return
	}
	b.count++
}

// Reset forgets key, typically after a successful attempt.
func (rl *FailureLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// RetryAfterSeconds returns the seconds left in key's window, rounded up.
// Used as the Retry-After header value.
func (rl *FailureLimiter) RetryAfterSeconds(key string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, ok := rl.buckets[key]
	if !ok {
		return 0
	}

	remaining := rl.window - time.Since(b.windowStart)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

// Stop ends the cleanup goroutine.
func (rl *FailureLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *FailureLimiter) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *FailureLimiter) cleanup() {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		if now.Sub(b.windowStart) > rl.window {
			delete(rl.buckets, key)
		}
	}
}

// ExtractIP returns the client IP of r. Proxy headers win over RemoteAddr
// because production runs behind a reverse proxy.
func ExtractIP(r *http.Request) string {
	// X-Forwarded-For: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// FormatRetryMessage renders a wait in human units, e.g. 120 -> "2 minute(s)".
func FormatRetryMessage(seconds int) string {
	if seconds >= 60 {
		return fmt.Sprintf("%d minute(s)", seconds/60)
	}
	return fmt.Sprintf("%d second(s)", seconds)
}
