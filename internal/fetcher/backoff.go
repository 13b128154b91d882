package fetcher

import (
	"context"
	"math/rand/v2"
	"time"
)

// Window is an inclusive range a random duration is drawn from.
type Window struct {
	Min time.Duration
	Max time.Duration
}

// Draw returns a duration in [Min, Max] using u, a uniform [0,1) source.
func (w Window) Draw(u func() float64) time.Duration {
	if w.Max <= w.Min {
		return w.Min
	}
	return w.Min + time.Duration(u()*float64(w.Max-w.Min))
}

// Backoff grows linearly with the attempt number and is scaled by a random
// factor so concurrent workers do not retry in lockstep.
type Backoff struct {
	Base      time.Duration
	FactorMin float64
	FactorMax float64
}

// Delay returns the wait after the given 1-based failed attempt:
// Base * attempt * uniform(FactorMin, FactorMax).
func (b Backoff) Delay(attempt int, u func() float64) time.Duration {
	if attempt < 1 || b.Base <= 0 {
		return 0
	}
	factor := b.FactorMin
	if b.FactorMax > b.FactorMin {
		factor += u() * (b.FactorMax - b.FactorMin)
	}
	return time.Duration(float64(b.Base) * float64(attempt) * factor)
}

// Sleep blocks for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func defaultUniform() float64 {
	return rand.Float64() // #nosec G404 -- pacing jitter, not security sensitive
}
