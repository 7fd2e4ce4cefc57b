// Package ratelimit bounds how fast a single signaling connection may send
// messages.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Limiter admits on average perSecond events per second and lets up to burst
// events through back to back. Time comes from Clock so tests can drive it.
type Limiter struct {
	clock Clock
	lim   *rate.Limiter
}

// NewLimiter returns a limiter, or nil when perSecond <= 0. A nil *Limiter
// admits everything. burst <= 0 defaults to perSecond.
func NewLimiter(clock Clock, perSecond, burst int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perSecond
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Limiter{
		clock: clock,
		lim:   rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.lim.AllowN(l.clock.Now(), 1)
}
