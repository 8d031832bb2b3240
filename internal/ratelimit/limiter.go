// Package ratelimit paces outbound provider requests.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 2 * time.Minute
)

// Limiter is a token bucket plus a penalty window. After a 429 the caller
// signals the limiter and every Wait holds off until the window passes.
type Limiter struct {
	limiter *rate.Limiter
	name    string

	mu         sync.Mutex
	backoff    time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	pausedTill time.Time
	now        func() time.Time
}

// Option tweaks a Limiter
type Option func(*Limiter)

// WithBackoff sets the first and the largest penalty window
func WithBackoff(first, limit time.Duration) Option {
	return func(l *Limiter) {
		l.minBackoff = first
		l.maxBackoff = limit
		l.backoff = first
	}
}

// NewLimiter creates a limiter allowing perMinute requests. A non-positive
// rate disables pacing.
func NewLimiter(name string, perMinute int, opts ...Option) *Limiter {
	lim := rate.Inf
	burst := 1
	if perMinute > 0 {
		lim = rate.Limit(float64(perMinute) / 60.0)
		// Burst of a tenth of the minute budget, between 1 and 5
		burst = min(max(perMinute/10, 1), 5)
	}

	l := &Limiter{
		limiter:    rate.NewLimiter(lim, burst),
		name:       name,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		backoff:    defaultMinBackoff,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait blocks until the penalty window has passed and a token is available
func (l *Limiter) Wait(ctx context.Context) error {
	if d := l.pause(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a request may go out right now
func (l *Limiter) Allow() bool {
	if l.pause() > 0 {
		return false
	}
	return l.limiter.Allow()
}

func (l *Limiter) pause() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pausedTill.Sub(l.now())
}

// SignalRateLimited opens a penalty window of the current backoff and
// doubles the backoff for next time. It returns the window length.
func (l *Limiter) SignalRateLimited() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := l.backoff
	l.pausedTill = l.now().Add(d)
	l.backoff = min(l.backoff*2, l.maxBackoff)
	return d
}

// ResetBackoff is called after a successful request
func (l *Limiter) ResetBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff = l.minBackoff
}

// Backoff returns the window the next SignalRateLimited will open
func (l *Limiter) Backoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoff
}

// Name returns the limiter name
func (l *Limiter) Name() string {
	return l.name
}
