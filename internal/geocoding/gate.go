package geocoding

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RateGate admits at most one caller per interval across the whole process.
// Admission is decided at the moment the caller is let through, so the gap
// between two admitted calls is never shorter than the interval even when a
// waiter wakes up late.
type RateGate struct {
	interval time.Duration
	limiter  *rate.Limiter
	clock    Clock
}

func NewRateGate(interval time.Duration) *RateGate {
	return NewRateGateWithClock(interval, realClock{})
}

func NewRateGateWithClock(interval time.Duration, clock Clock) *RateGate {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateGate{
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
		clock:    clock,
	}
}

func (g *RateGate) Interval() time.Duration {
	return g.interval
}

// Wait blocks until the gate admits the caller or ctx ends.
func (g *RateGate) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := g.clock.Now()
		if g.limiter.AllowN(now, 1) {
			return nil
		}

		wait := time.Duration((1 - g.limiter.TokensAt(now)) * float64(g.interval))
		if wait <= 0 {
			wait = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.clock.After(wait):
		}
	}
}
