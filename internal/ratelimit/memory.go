package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowCounter tracks hits inside one one-second window.
type windowCounter struct {
	windowStart int64
	hits        int
}

// pruneThreshold bounds the counter map. Stale windows are dropped once
// the map grows past it, so a long-running process does not accumulate
// a counter per utorid it has ever seen.
const pruneThreshold = 4096

// MemoryLimiter is a fixed-window limiter held in process memory. It is
// the backend when no Redis is configured or reachable.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counters: make(map[string]*windowCounter)}
}

// Allow counts the request against the key's current window. A limit of
// zero or below means unlimited.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	windowStart := now.Unix()
	reset := time.Unix(windowStart+1, 0).UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	counter, ok := l.counters[key]
	if !ok {
		if len(l.counters) >= pruneThreshold {
			l.prune(windowStart)
		}
		counter = &windowCounter{windowStart: windowStart}
		l.counters[key] = counter
	}
	if counter.windowStart != windowStart {
		counter.windowStart = windowStart
		counter.hits = 0
	}
	if counter.hits >= limit {
		return Result{Allowed: false, Reset: reset}, nil
	}
	counter.hits++
	return Result{Allowed: true, Remaining: limit - counter.hits, Reset: reset}, nil
}

// prune drops counters from past windows. Callers hold the mutex.
func (l *MemoryLimiter) prune(windowStart int64) {
	for key, counter := range l.counters {
		if counter.windowStart < windowStart {
			delete(l.counters, key)
		}
	}
}
