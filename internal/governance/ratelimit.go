package governance

import (
	"sync"
	"time"
)

// rateLimiter tracks tool invocations in a sliding window per
// (tool, caller) pair.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{windows: make(map[string][]time.Time)}
}

// allow records one invocation and reports whether it stays within n calls
// per window.
func (r *rateLimiter) allow(tool, caller string, n int, window time.Duration) bool {
	key := tool + "\x00" + caller
	now := time.Now()
	cutoff := now.Add(-window)

	r.mu.Lock()
	defer r.mu.Unlock()

	timestamps := r.windows[key]
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= n {
		r.windows[key] = kept
		return false
	}
	r.windows[key] = append(kept, now)
	return true
}
