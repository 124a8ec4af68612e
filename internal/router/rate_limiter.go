package router

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window counter per session.
//
// The window starts at the first message and resets once now - windowStart
// reaches the window length. It does not slide, so a burst straddling a
// window boundary can briefly reach twice the nominal rate. Scenario tests
// and clients rely on these boundary semantics; do not swap in a token bucket.
type RateLimiter struct {
	mu           sync.Mutex
	window       time.Duration
	maxPerWindow int
	sessions     map[string]*windowState
}

// windowState is the per-session bookkeeping
type windowState struct {
	windowStart time.Time
	count       int
}

// NewRateLimiter creates a limiter allowing maxPerWindow messages per window
func NewRateLimiter(window time.Duration, maxPerWindow int) *RateLimiter {
	return &RateLimiter{
		window:       window,
		maxPerWindow: maxPerWindow,
		sessions:     make(map[string]*windowState),
	}
}

// Admit records one submission at now and reports whether it is allowed.
// The counter keeps incrementing past the limit so that repeated abuse
// cannot reopen the window early.
func (rl *RateLimiter) Admit(sessionID string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, exists := rl.sessions[sessionID]
	if !exists || now.Sub(state.windowStart) >= rl.window {
		state = &windowState{windowStart: now}
		rl.sessions[sessionID] = state
	}

	state.count++
	return state.count <= rl.maxPerWindow
}

// Forget drops the state for a session that has ended
func (rl *RateLimiter) Forget(sessionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.sessions, sessionID)
}

// Len returns the number of sessions with live window state
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.sessions)
}
