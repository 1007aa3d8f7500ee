// Package ratelimit provides non-blocking, multi-window token-bucket admission
// control for outbound calls.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/time/rate"

	"github.com/okian/fusion/pkg/metrics"
)

// Window describes one token bucket: Capacity tokens refilled evenly over Period.
type Window struct {
	Name     string
	Capacity int
	Period   time.Duration
}

// Validate checks that the window can be turned into a bucket.
func (w Window) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: window name is empty", ErrInvalidWindow)
	}
	if w.Capacity <= 0 {
		return fmt.Errorf("%w: window %s capacity %d", ErrInvalidWindow, w.Name, w.Capacity)
	}
	if w.Period <= 0 {
		return fmt.Errorf("%w: window %s period %s", ErrInvalidWindow, w.Name, w.Period)
	}
	return nil
}

// BucketState is a point-in-time view of one window.
type BucketState struct {
	Window          string
	Capacity        int
	RefillPerSecond float64
	TokensRemaining float64
	LastRefill      time.Time
}

type bucket struct {
	window     Window
	limiter    *rate.Limiter
	lastRefill time.Time
}

// Limiter admits a call only when every window holds at least one token.
// All windows are checked and debited under one mutex so a denial never
// consumes tokens from any window.
type Limiter struct {
	resource string
	clock    clock.Clock

	mu      sync.Mutex
	buckets []*bucket
}

// Option applies a configuration option to the Limiter.
type Option func(*Limiter)

// WithClock sets the time source. Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// New creates a limiter for resource with the given windows. Buckets start full.
func New(resource string, windows []Window, opts ...Option) (*Limiter, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("%w: no windows for %s", ErrInvalidWindow, resource)
	}
	l := &Limiter{resource: resource, clock: clock.NewClock()}
	for _, opt := range opts {
		opt(l)
	}

	now := l.clock.Now()
	seen := make(map[string]struct{}, len(windows))
	for _, w := range windows {
		if err := w.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[w.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate window %s", ErrInvalidWindow, w.Name)
		}
		seen[w.Name] = struct{}{}
		every := w.Period / time.Duration(w.Capacity)
		lim := rate.NewLimiter(rate.Every(every), w.Capacity)
		l.buckets = append(l.buckets, &bucket{window: w, limiter: lim, lastRefill: now})
	}
	return l, nil
}

// Resource returns the name of the guarded resource.
func (l *Limiter) Resource() string { return l.resource }

// TryAcquire takes one token from every window, or none. It never blocks.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for _, b := range l.buckets {
		b.lastRefill = now
		if b.limiter.TokensAt(now) < 1 {
			metrics.RecordRateLimitRejection(l.resource, b.window.Name)
			return false
		}
	}
	for _, b := range l.buckets {
		// Checked above under the same lock; cannot fail.
		b.limiter.AllowN(now, 1)
	}
	return true
}

// State reports the current bucket levels without consuming tokens.
func (l *Limiter) State() []BucketState {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	out := make([]BucketState, 0, len(l.buckets))
	for _, b := range l.buckets {
		out = append(out, BucketState{
			Window:          b.window.Name,
			Capacity:        b.window.Capacity,
			RefillPerSecond: float64(b.limiter.Limit()),
			TokensRemaining: b.limiter.TokensAt(now),
			LastRefill:      b.lastRefill,
		})
	}
	return out
}
