// MessageRateLimiter throttles chat sends per user.
//
// Unlike FailureLimiter, which keys by IP and refuses only until the window
// slides, the window and the penalty are separate here. The window is short
// so a burst of quick replies is fine, and the cooldown is longer so a user
// who floods the chat has to stop for a while:
//
//   - up to maxMessages sends inside window are allowed
//   - the next one starts a cooldown; every send is refused until it ends
//   - when the cooldown ends the user starts a fresh window
package ratelimit

import (
	"sync"
	"time"
)

// messageBucket has two modes. Counting: count grows inside the window
// that opened at windowStart. Cooling down: cooldownUntil is in the future
// and every send is refused.
type messageBucket struct {
	count         int
	windowStart   time.Time
	cooldownUntil time.Time // zero means no cooldown
}

// MessageRateLimiter throttles chat sends per user. Exceeding maxMessages
// inside window puts the user on a cooldown during which every send is refused.
//
//	limiter := NewMessageRateLimiter(5, 5*time.Second, 15*time.Second)
//	if !limiter.Allow(userID) { reject }
type MessageRateLimiter struct {
	mu          sync.RWMutex
	buckets     map[string]*messageBucket
	maxMessages int
	window      time.Duration
	cooldown    time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func NewMessageRateLimiter(maxMessages int, window, cooldown time.Duration) *MessageRateLimiter {
	rl := &MessageRateLimiter{
		buckets:     make(map[string]*messageBucket),
		maxMessages: maxMessages,
		window:      window,
		cooldown:    cooldown,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow counts one message for userID and reports whether it may be sent.
func (rl *MessageRateLimiter) Allow(userID string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Order matters: an active cooldown wins over an elapsed window, so a
	// flooder cannot slip through once the short window has passed.
	b, exists := rl.buckets[userID]
	if !exists {
		rl.buckets[userID] = &messageBucket{count: 1, windowStart: now}
		return true
	}

	if !b.cooldownUntil.IsZero() && now.Before(b.cooldownUntil) {
		return false
	}

	// Cooldown over: start a fresh window.
	if !b.cooldownUntil.IsZero() {
		b.count = 1
		b.windowStart = now
		b.cooldownUntil = time.Time{}
		return true
	}

	if now.Sub(b.windowStart) > rl.window {
		b.count = 1
		b.windowStart = now
		return true
	}

	b.count++
	if b.count > rl.maxMessages {
		b.cooldownUntil = now.Add(rl.cooldown)
		return false
	}

	return true
}

// CooldownSeconds returns the remaining cooldown for userID, or 0. It is
// rounded up so a client that waits exactly this long is let through; the
// gateway puts it in the rate limit error it sends back.
func (rl *MessageRateLimiter) CooldownSeconds(userID string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, exists := rl.buckets[userID]
	if !exists || b.cooldownUntil.IsZero() {
		return 0
	}

	remaining := time.Until(b.cooldownUntil)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

// Stop ends the cleanup goroutine.
func (rl *MessageRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// cleanupLoop runs every 30 seconds. A bucket lives at most window plus
// cooldown, so without it the map would hold one entry per user that ever
// chatted.
func (rl *MessageRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
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

// cleanup drops buckets whose window and cooldown have both passed. A
// bucket in cooldown is kept even when its window is long gone, or the
// user would be forgiven early.
func (rl *MessageRateLimiter) cleanup() {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for userID, b := range rl.buckets {
		windowExpired := now.Sub(b.windowStart) > rl.window
		cooldownExpired := b.cooldownUntil.IsZero() || now.After(b.cooldownUntil)

		if windowExpired && cooldownExpired {
			delete(rl.buckets, userID)
		}
	}
}
