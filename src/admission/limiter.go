// Package admission bounds how many backend requests may start per unit of
// time and how many may be in flight at once.
package admission

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultRequestsPerWindow = 1
	DefaultWindow            = time.Second
)

// Sleeper suspends for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper backed by a timer.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RateLimiter is a sliding-window admission gate. At any instant no more than
// requestsPerWindow admissions fall inside the trailing window.
//
// Callers queue on a weighted semaphore of size one, which grants in arrival
// order, so admissions are FIFO. The window slice is only touched while the
// gate is held.
type RateLimiter struct {
	limit  int
	window time.Duration
	gate   *semaphore.Weighted

	admitted []time.Time

	now   func() time.Time
	sleep Sleeper

	// observe sees every admission time; tests only.
	observe func(time.Time)
}

// LimiterOption customizes a RateLimiter.
type LimiterOption func(*RateLimiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *RateLimiter) { l.now = now }
}

// WithSleeper overrides the wait primitive.
func WithSleeper(s Sleeper) LimiterOption {
	return func(l *RateLimiter) { l.sleep = s }
}

// NewRateLimiter creates a limiter admitting requestsPerWindow starts per window.
// Non-positive arguments fall back to 1 request per second.
func NewRateLimiter(requestsPerWindow int, window time.Duration, opts ...LimiterOption) *RateLimiter {
	if requestsPerWindow <= 0 {
		requestsPerWindow = DefaultRequestsPerWindow
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &RateLimiter{
		limit:  requestsPerWindow,
		window: window,
		gate:   semaphore.NewWeighted(1),
		now:    time.Now,
		sleep:  SleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a slot is free in the window and records the admission.
// A cancelled ctx returns ctx.Err() and records nothing.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if err := l.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.gate.Release(1)

	for {
		now := l.now()
		l.prune(now)
		if len(l.admitted) < l.limit {
			l.admitted = append(l.admitted, now)
			if l.observe != nil {
				l.observe(now)
			}
			return nil
		}

		wait := l.admitted[0].Add(l.window).Sub(now)
		if wait <= 0 {
			continue
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Limit returns the configured requests per window and the window length.
func (l *RateLimiter) Limit() (int, time.Duration) {
	return l.limit, l.window
}

func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.admitted) && !l.admitted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.admitted = append(l.admitted[:0], l.admitted[i:]...)
	}
}
