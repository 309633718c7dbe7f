package crm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLimiterSaturated is returned when the waiter queue is full.
var ErrLimiterSaturated = errors.New("crm rate limiter saturated")

// Limiter admits at most limit calls in any sliding window. Callers that
// exceed the ceiling wait in arrival order and are released as the oldest
// admissions fall out of the window.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	maxQueue int

	admitted []time.Time
	waiters  []*waiter
	timer    *time.Timer
}

type waiter struct {
	ready chan struct{}
}

// NewLimiter creates a limiter allowing perWindow calls per window.
// maxQueue bounds the number of waiting callers; 0 means unbounded.
func NewLimiter(perWindow int, window time.Duration, maxQueue int) *Limiter {
	if perWindow <= 0 {
		perWindow = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	return &Limiter{
		limit:    perWindow,
		window:   window,
		maxQueue: maxQueue,
	}
}

// Wait blocks until the caller may issue one request.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	l.prune(now)

	if len(l.waiters) == 0 && len(l.admitted) < l.limit {
		l.admitted = append(l.admitted, now)
		l.mu.Unlock()
		return nil
	}
	if l.maxQueue > 0 && len(l.waiters) >= l.maxQueue {
		l.mu.Unlock()
		return ErrLimiterSaturated
	}

	w := &waiter{ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.scheduleLocked(now)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		removed := l.removeLocked(w)
		l.mu.Unlock()
		if !removed {
			// Admitted while cancelling; the slot is already spent.
			return nil
		}
		return ctx.Err()
	}
}

// Queued returns the number of callers currently waiting.
func (l *Limiter) Queued() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.timer = nil
	now := time.Now()
	l.prune(now)
	for len(l.waiters) > 0 && len(l.admitted) < l.limit {
		w := l.waiters[0]
		l.waiters[0] = nil
		l.waiters = l.waiters[1:]
		l.admitted = append(l.admitted, now)
		close(w.ready)
	}
	if len(l.waiters) > 0 {
		l.scheduleLocked(now)
	}
}

func (l *Limiter) scheduleLocked(now time.Time) {
	if l.timer != nil {
		return
	}
	delay := time.Duration(0)
	if len(l.admitted) > 0 {
		delay = l.admitted[0].Add(l.window).Sub(now)
	}
	if delay < 0 {
		delay = 0
	}
	l.timer = time.AfterFunc(delay, l.release)
}

func (l *Limiter) prune(now time.Time) {
	cut := 0
	for cut < len(l.admitted) && now.Sub(l.admitted[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.admitted = append(l.admitted[:0], l.admitted[cut:]...)
	}
}

func (l *Limiter) removeLocked(target *waiter) bool {
	for i, w := range l.waiters {
		if w == target {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return true
		}
	}
	return false
}
