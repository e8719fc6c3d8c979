// Package backoff provides exponential backoff computation and a retry
// executor for transient failures.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy computes the wait duration before each retry attempt.
// The zero value is not usable; call Normalize or use DefaultPolicy.
type Policy struct {
	// Base is the delay after the first failed attempt.
	Base time.Duration

	// Max caps the delay between attempts.
	Max time.Duration

	// Multiplier is the factor by which the delay grows per attempt.
	// Values below 1 are treated as 1 (constant delay).
	Multiplier float64

	// Jitter adds randomness to delays to prevent thundering herd.
	// 0.0 means no jitter, 0.1 means +/- 10% of the delay.
	Jitter float64
}

// DefaultPolicy returns a reasonable default backoff policy.
func DefaultPolicy() Policy {
	return Policy{
		Base:       1 * time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// NetworkPolicy returns a backoff policy tuned for network operations.
func NetworkPolicy() Policy {
	return Policy{
		Base:       2 * time.Second,
		Max:        16 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Normalize fills in zero fields with defaults and clamps the multiplier.
func (p Policy) Normalize() Policy {
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.Max <= 0 {
		p.Max = 30 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// DelayFor returns the wait before retrying after the given failed attempt,
// with attempt numbering starting at 0:
//
//	delay = min(Max, Base * Multiplier^attempt)
//
// DelayFor is pure and does not apply jitter; use Jittered for that.
func (p Policy) DelayFor(attempt int) time.Duration {
	p = p.Normalize()
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Jittered applies the policy's jitter to a computed delay.
func (p Policy) Jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	span := float64(d) * p.Jitter
	return d + time.Duration(rand.Float64()*2*span-span)
}
