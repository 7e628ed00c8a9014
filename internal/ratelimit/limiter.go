// Package ratelimit gates runs on the time of the last sent notification.
package ratelimit

import (
	"context"
	"time"
)

// DefaultCooldown is the minimum gap between two notifying runs.
const DefaultCooldown = time.Minute

// MarkerSource returns when a notification was last sent.
type MarkerSource interface {
	LastNotification(ctx context.Context) (time.Time, bool, error)
}

// Limiter reports whether a run falls inside the cooldown. It is best-effort:
// two runs that read the marker before either writes it both proceed.
type Limiter struct {
	source   MarkerSource
	cooldown time.Duration
	now      func() time.Time
}

// New returns a Limiter. A non-positive cooldown uses DefaultCooldown.
func New(source MarkerSource, cooldown time.Duration) *Limiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Limiter{source: source, cooldown: cooldown, now: time.Now}
}

// WithClock replaces the wall clock; intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Cooldown returns the configured window.
func (l *Limiter) Cooldown() time.Duration { return l.cooldown }

// IsRateLimited is true when a marker exists and is younger than the cooldown.
func (l *Limiter) IsRateLimited(ctx context.Context) (bool, error) {
	last, ok, err := l.source.LastNotification(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return l.now().Sub(last) < l.cooldown, nil
}
