package resilience

import (
	"math/rand/v2"
	"time"
)

// Backoff computes exponential reconnect delays. The delay for attempt k
// (1-based) never exceeds min(Base × Factor^(k-1), Cap); jitter subtracts a
// random fraction so synchronized clients fan out instead of reconnecting
// in lockstep.
type Backoff struct {
	// Base is the first delay. Default 1s.
	Base time.Duration

	// Factor multiplies the delay each attempt. Default 2.
	Factor float64

	// Cap bounds the delay. Default 30s.
	Cap time.Duration

	// Jitter is the fraction of the delay that may be randomly shaved off,
	// in [0, 1). Default 0.25.
	Jitter float64
}

func (b Backoff) base() time.Duration {
	if b.Base <= 0 {
		return time.Second
	}
	return b.Base
}

func (b Backoff) factor() float64 {
	if b.Factor < 1 {
		return 2
	}
	return b.Factor
}

func (b Backoff) cap() time.Duration {
	if b.Cap <= 0 {
		return 30 * time.Second
	}
	return b.Cap
}

func (b Backoff) jitter() float64 {
	if b.Jitter < 0 || b.Jitter >= 1 {
		return 0.25
	}
	return b.Jitter
}

// Delay returns the jittered delay before attempt k. Attempts below 1 are
// treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.base())
	factor := b.factor()
	limit := float64(b.cap())
	for i := 1; i < attempt && d < limit; i++ {
		d *= factor
	}
	if d > limit {
		d = limit
	}

	if j := b.jitter(); j > 0 {
		d -= rand.Float64() * j * d
	}
	return time.Duration(d)
}
