// Package kernel provides upstream rate limiting using a sliding window algorithm.
//
// Features:
//   - Independent windows per key (one key per upstream)
//   - Minute and hour windows
//   - Blocking Wait that honours context cancellation
//   - Thread-safe implementation
package kernel

import (
	"context"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Rate Limit Config & Result
// =============================================================================

// RateLimitConfig defines rate limiting thresholds. A zero limit disables that window.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour" mapstructure:"requests_per_hour"`
}

// DefaultRateLimitConfig returns defaults sized for a hosted generation API.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 50,
		RequestsPerHour:   0,
	}
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	LimitType  string        `json:"limit_type,omitempty"` // "minute", "hour"
	Current    int           `json:"current"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// ExceededLimit creates a rate limit exceeded result.
func ExceededLimit(limitType string, current, limit int, retryAfter time.Duration) *RateLimitResult {
	return &RateLimitResult{
		Allowed:    false,
		LimitType:  limitType,
		Current:    current,
		Limit:      limit,
		RetryAfter: retryAfter,
	}
}

// AllowedResult creates an allowed result.
func AllowedResult(remaining int) *RateLimitResult {
	return &RateLimitResult{Allowed: true, Remaining: remaining}
}

// =============================================================================
// Sliding Window
// =============================================================================

// SlidingWindow implements a sliding window counter using sub-buckets.
// Callers must serialise access; RateLimiter holds its own lock.
type SlidingWindow struct {
	windowSeconds int
	bucketCount   int
	buckets       map[int64]int
}

// NewSlidingWindow creates a new sliding window.
func NewSlidingWindow(windowSeconds int) *SlidingWindow {
	return &SlidingWindow{
		windowSeconds: windowSeconds,
		bucketCount:   10,
		buckets:       make(map[int64]int),
	}
}

func (w *SlidingWindow) bucketSize() float64 {
	return float64(w.windowSeconds) / float64(w.bucketCount)
}

func (w *SlidingWindow) minBucket(timestamp float64) int64 {
	return int64(timestamp/w.bucketSize()) - int64(w.bucketCount)
}

// Record records a request and returns the current count.
func (w *SlidingWindow) Record(timestamp float64) int {
	oldest := w.minBucket(timestamp)
	for b := range w.buckets {
		if b < oldest {
			delete(w.buckets, b)
		}
	}
	w.buckets[int64(timestamp/w.bucketSize())]++
	return w.Count(timestamp)
}

// Count returns the number of requests inside the window at timestamp.
func (w *SlidingWindow) Count(timestamp float64) int {
	oldest := w.minBucket(timestamp)
	count := 0
	for bucket, n := range w.buckets {
		if bucket >= oldest {
			count += n
		}
	}
	return count
}

// TimeUntilSlotAvailable returns how long until the count drops below limit.
func (w *SlidingWindow) TimeUntilSlotAvailable(timestamp float64, limit int) time.Duration {
	current := w.Count(timestamp)
	if current < limit {
		return 0
	}

	oldest := w.minBucket(timestamp)
	live := make([]int64, 0, len(w.buckets))
	for b := range w.buckets {
		if b >= oldest {
			live = append(live, b)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

	excess := current - limit + 1
	expired := 0
	for _, b := range live {
		expired += w.buckets[b]
		if expired >= excess {
			bucketEnd := float64(b+1) * w.bucketSize()
			wait := bucketEnd + float64(w.windowSeconds) - timestamp
			if wait < 0 {
				return 0
			}
			return time.Duration(wait * float64(time.Second))
		}
	}
	return time.Duration(w.windowSeconds) * time.Second
}

// IsEmpty returns true if window has no activity.
func (w *SlidingWindow) IsEmpty() bool {
	return len(w.buckets) == 0
}

// =============================================================================
// Rate Limiter
// =============================================================================

type windowKey struct {
	key        string
	windowType string
}

// RateLimiter caps request rates per key.
type RateLimiter struct {
	defaultConfig *RateLimitConfig
	windows       map[windowKey]*SlidingWindow
	now           func() time.Time
	mu            sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(defaultConfig *RateLimitConfig) *RateLimiter {
	if defaultConfig == nil {
		defaultConfig = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		defaultConfig: defaultConfig,
		windows:       make(map[windowKey]*SlidingWindow),
		now:           time.Now,
	}
}

// Check tests key against its limits and, when allowed and record is set,
// consumes a slot.
func (r *RateLimiter) Check(key string, record bool) *RateLimitResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := float64(r.now().UnixNano()) / 1e9
	config := r.defaultConfig

	checks := []struct {
		windowType    string
		windowSeconds int
		limit         int
	}{
		{"minute", 60, config.RequestsPerMinute},
		{"hour", 3600, config.RequestsPerHour},
	}

	for _, check := range checks {
		if check.limit <= 0 {
			continue
		}
		wk := windowKey{key, check.windowType}
		window, ok := r.windows[wk]
		if !ok {
			window = NewSlidingWindow(check.windowSeconds)
			r.windows[wk] = window
		}
		if current := window.Count(now); current >= check.limit {
			return ExceededLimit(check.windowType, current, check.limit, window.TimeUntilSlotAvailable(now, check.limit))
		}
	}

	remaining := -1
	for _, check := range checks {
		if check.limit <= 0 {
			continue
		}
		window := r.windows[windowKey{key, check.windowType}]
		count := window.Count(now)
		if record {
			count = window.Record(now)
		}
		if left := check.limit - count; remaining < 0 || left < remaining {
			remaining = left
		}
	}
	return AllowedResult(remaining)
}

// Wait blocks until key has a free slot, consumes it and returns the time spent waiting.
func (r *RateLimiter) Wait(ctx context.Context, key string) (time.Duration, error) {
	start := r.now()
	for {
		res := r.Check(key, true)
		if res.Allowed {
			return r.now().Sub(start), nil
		}
		retry := res.RetryAfter
		if retry <= 0 {
			retry = 10 * time.Millisecond
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r.now().Sub(start), ctx.Err()
		case <-timer.C:
		}
	}
}

// CleanupExpired drops windows with no activity left.
// Should be called periodically to prevent memory growth.
func (r *RateLimiter) CleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := float64(r.now().UnixNano()) / 1e9
	cleaned := 0
	for key, window := range r.windows {
		if window.Count(now) == 0 {
			delete(r.windows, key)
			cleaned++
		}
	}
	return cleaned
}
