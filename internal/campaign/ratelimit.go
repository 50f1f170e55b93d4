package campaign

import (
	"math"
	"sync"
	"time"
)

// RateLimiterConfig configures the sliding-window limiter.
type RateLimiterConfig struct {
	// Window is the trailing interval the counters cover. Hourly
	// campaign budgets are scaled down to it.
	Window time.Duration
	// GlobalLimit caps sends across all campaigns per window, e.g. a
	// provider ceiling. Zero means no global cap.
	GlobalLimit int
}

// DefaultRateLimiterConfig returns the default limiter configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Window:      time.Minute,
		GlobalLimit: 0,
	}
}

type campaignWindow struct {
	events     []time.Time
	credit     float64
	lastAccrue time.Time
}

// RateLimiter bounds sends per campaign and globally within a trailing
// window. Hourly budgets below one send per window accrue fractionally
// instead of truncating to zero, so low-rate campaigns are not starved.
// Safe for concurrent use: check and record happen under one lock.
type RateLimiter struct {
	config RateLimiterConfig
	now    func() time.Time

	mu        sync.Mutex
	campaigns map[string]*campaignWindow
	global    []time.Time
}

// NewRateLimiter creates a sliding-window rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	return &RateLimiter{
		config:    config,
		now:       time.Now,
		campaigns: make(map[string]*campaignWindow),
	}
}

// TryAcquire atomically checks the campaign's trailing-window count
// against its hourly rate limit scaled to the window, and the global
// ceiling. On success it records the send and returns true; a refusal
// has no side effects.
func (l *RateLimiter) TryAcquire(campaignID string, ratePerHour int) bool {
	now := l.now()
	cutoff := now.Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Budget for one window, fractional for low rates.
	budget := float64(ratePerHour) * l.config.Window.Hours()
	maxCredit := math.Max(budget, 1)

	w, ok := l.campaigns[campaignID]
	if !ok {
		// A fresh campaign starts with a full budget so its first due
		// entry is never refused.
		w = &campaignWindow{credit: maxCredit, lastAccrue: now}
		l.campaigns[campaignID] = w
	}

	w.events = pruneBefore(w.events, cutoff)
	l.global = pruneBefore(l.global, cutoff)

	// Accrue credit continuously at the hourly rate.
	elapsed := now.Sub(w.lastAccrue)
	if elapsed > 0 {
		w.credit = math.Min(w.credit+elapsed.Hours()*float64(ratePerHour), maxCredit)
		w.lastAccrue = now
	}

	if w.credit < 1 {
		return false
	}
	if float64(len(w.events)+1) > math.Ceil(budget) {
		return false
	}
	if l.config.GlobalLimit > 0 && len(l.global)+1 > l.config.GlobalLimit {
		return false
	}

	w.credit--
	w.events = append(w.events, now)
	l.global = append(l.global, now)
	return true
}

// InWindow reports the recorded send count for a campaign within the
// current trailing window.
func (l *RateLimiter) InWindow(campaignID string) int {
	now := l.now()
	cutoff := now.Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.campaigns[campaignID]
	if !ok {
		return 0
	}
	w.events = pruneBefore(w.events, cutoff)
	return len(w.events)
}

// Forget drops a campaign's window state, e.g. after completion.
func (l *RateLimiter) Forget(campaignID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.campaigns, campaignID)
}

func pruneBefore(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0], events[i:]...)
}
