package githubapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const DefaultLowWaterMark = 100

// RateLimitState is the quota reported by the most recent response.
// It is advisory only.
type RateLimitState struct {
	Reset      time.Time
	ObservedAt time.Time
	Remaining  int
	Limit      int
}

// Known reports whether any response carried rate-limit headers yet.
func (s RateLimitState) Known() bool {
	return !s.ObservedAt.IsZero()
}

// UntilReset is the time left in the current window, never negative.
func (s RateLimitState) UntilReset(now time.Time) time.Duration {
	if d := s.Reset.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RateLimitObserver is notified after every response that carries
// rate-limit headers.
type RateLimitObserver interface {
	ObserveRateLimit(RateLimitState)
}

type RateLimitObserverFunc func(RateLimitState)

func (f RateLimitObserverFunc) ObserveRateLimit(s RateLimitState) { f(s) }

// LowWaterObserver forwards only states whose remaining quota is below Mark.
type LowWaterObserver struct {
	Fn   func(RateLimitState)
	Mark int
}

func (o LowWaterObserver) ObserveRateLimit(s RateLimitState) {
	if s.Remaining < o.Mark {
		o.Fn(s)
	}
}

type rateLimitTracker struct {
	mu        sync.RWMutex
	state     RateLimitState
	observers map[int]RateLimitObserver
	nextID    int
}

func newRateLimitTracker() *rateLimitTracker {
	return &rateLimitTracker{observers: make(map[int]RateLimitObserver)}
}

func (t *rateLimitTracker) current() RateLimitState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *rateLimitTracker) subscribe(o RateLimitObserver) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = o
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

// update records the headers of resp, if present, and notifies observers
// outside the lock.
func (t *rateLimitTracker) update(h http.Header, now time.Time) (RateLimitState, bool) {
	state, ok := parseRateLimit(h, now)
	if !ok {
		return RateLimitState{}, false
	}

	t.mu.Lock()
	t.state = state
	observers := make([]RateLimitObserver, 0, len(t.observers))
	for _, o := range t.observers {
		observers = append(observers, o)
	}
	t.mu.Unlock()

	for _, o := range observers {
		o.ObserveRateLimit(state)
	}
	return state, true
}

func parseRateLimit(h http.Header, now time.Time) (RateLimitState, bool) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return RateLimitState{}, false
	}

	state := RateLimitState{Remaining: remaining, ObservedAt: now}
	if limit, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		state.Limit = limit
	}
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		state.Reset = time.Unix(reset, 0)
	}
	return state, true
}
