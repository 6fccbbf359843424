package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// DropLogLimiter caps how many drops are logged per reason in a fixed
// window. Counts reset when the window rotates; suppressed lines are
// counted so the next logged line can report them.
type DropLogLimiter struct {
	mu           sync.Mutex
	current      map[string]*atomic.Int64 // reason → drops logged in current window
	windowStart  time.Time
	windowSize   time.Duration
	maxPerWindow int64

	suppressed atomic.Int64
}

type DropLogLimiterConfig struct {
	MaxPerReason int           // Max log lines per drop reason per window (0 = log none)
	Window       time.Duration // Window size (default 10s)
}

// NewDropLogLimiter returns nil when MaxPerReason is negative, which logs
// every drop.
func NewDropLogLimiter(cfg DropLogLimiterConfig) *DropLogLimiter {
	if cfg.MaxPerReason < 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return &DropLogLimiter{
		current:      make(map[string]*atomic.Int64),
		windowStart:  time.Now(),
		windowSize:   cfg.Window,
		maxPerWindow: int64(cfg.MaxPerReason),
	}
}

// Allow reports whether a drop with the given reason may be logged. A nil
// limiter allows everything.
func (l *DropLogLimiter) Allow(reason string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	if now.Sub(l.windowStart) >= l.windowSize {
		l.current = make(map[string]*atomic.Int64)
		l.windowStart = now
	}
	counter, ok := l.current[reason]
	if !ok {
		counter = &atomic.Int64{}
		l.current[reason] = counter
	}
	l.mu.Unlock()

	if counter.Add(1) > l.maxPerWindow {
		l.suppressed.Add(1)
		return false
	}
	return true
}

// TakeSuppressed returns the number of suppressed lines since the last
// call and resets it.
func (l *DropLogLimiter) TakeSuppressed() int64 {
	if l == nil {
		return 0
	}
	return l.suppressed.Swap(0)
}

// ActiveReasons returns the number of distinct reasons in the current window.
func (l *DropLogLimiter) ActiveReasons() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.current)
}
