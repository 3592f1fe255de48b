package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRejected is returned when a call would exceed the budget and the
// caller cannot wait for it.
var ErrRejected = errors.New("rate limit budget exhausted")

// Policy describes the budget of one source.
type Policy struct {
	Max      int           // calls per window
	Window   time.Duration // rolling window length
	MaxWait  time.Duration // longest a caller waits for a slot; 0 rejects immediately
	MaxQueue int           // concurrent waiters allowed; 0 means none
}

// Budget is a point-in-time snapshot of a limiter's state.
type Budget struct {
	Source      string        `json:"source"`
	Max         int           `json:"max"`
	Window      time.Duration `json:"window"`
	WindowStart time.Time     `json:"window_start"`
	Used        int           `json:"used"`
	Waiting     int           `json:"waiting"`
}

// Limiter enforces a rolling-window call budget. The log of granted
// calls never holds more than Max entries younger than Window.
type Limiter struct {
	source string
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	granted []time.Time
	waiting int
}

// New creates a limiter for source.
func New(source string, p Policy) *Limiter {
	if p.Max <= 0 {
		p.Max = 1
	}
	if p.Window <= 0 {
		p.Window = time.Second
	}
	return &Limiter{source: source, policy: p, now: time.Now}
}

// Acquire blocks until a call is permitted, the wait bound is exceeded,
// or ctx is done. A nil return is a permit.
func (l *Limiter) Acquire(ctx context.Context) error {
	queued := false
	defer func() {
		if queued {
			l.mu.Lock()
			l.waiting--
			l.mu.Unlock()
		}
	}()

	var deadline time.Time
	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)
		if len(l.granted) < l.policy.Max {
			l.granted = append(l.granted, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.granted[0].Add(l.policy.Window).Sub(now)
		if !queued {
			if l.waiting >= l.policy.MaxQueue {
				l.mu.Unlock()
				return fmt.Errorf("%s: %w (queue full)", l.source, ErrRejected)
			}
			l.waiting++
			queued = true
			deadline = now.Add(l.policy.MaxWait)
		}
		if now.Add(wait).After(deadline) {
			l.mu.Unlock()
			return fmt.Errorf("%s: %w (wait %s exceeds %s)", l.source, ErrRejected, wait.Round(time.Millisecond), l.policy.MaxWait)
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// evict drops grants that left the window. Caller holds mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.policy.Window)
	i := 0
	for i < len(l.granted) && !l.granted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.granted = append(l.granted[:0], l.granted[i:]...)
	}
}

// Budget returns the current state of the window.
func (l *Limiter) Budget() Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)
	b := Budget{
		Source:  l.source,
		Max:     l.policy.Max,
		Window:  l.policy.Window,
		Used:    len(l.granted),
		Waiting: l.waiting,
	}
	if len(l.granted) > 0 {
		b.WindowStart = l.granted[0]
	} else {
		b.WindowStart = now
	}
	return b
}

// Policy returns the limiter's configuration.
func (l *Limiter) Policy() Policy { return l.policy }
