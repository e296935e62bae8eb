// Package backoff provides jittered retry delays and randomized acquisition jitter.
package backoff

import (
	"context"
	rand "math/rand/v2"
	"time"
)

// Policy computes decorrelated jitter backoff delays with a cap.
//
// Given the previous delay (prev), the next delay is:
//
//	next = min(cap, base + rand(prev*multiplier - base))
//
// Behavior:
//   - If prev <= 0, start from base
//   - Multiplier < 1.0 falls back to 1.0 (no growth)
//   - Cap <= base returns cap
//
// A Policy is not safe for concurrent use when built with a seeded RNG.
type Policy struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration

	rng *rand.Rand
}

// New creates a backoff policy. A non-zero seed makes the sequence deterministic.
func New(base time.Duration, multiplier float64, capDur time.Duration, seed int64) *Policy {
	return &Policy{Base: base, Multiplier: multiplier, Cap: capDur, rng: newRNG(seed)}
}

// Next returns the delay that follows prev.
func (p *Policy) Next(prev time.Duration) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	if p.Cap > 0 && p.Cap < base {
		return p.Cap
	}

	if prev <= 0 {
		return base
	}

	maxDuration := time.Duration(float64(prev)*mult) - base
	if maxDuration <= 0 {
		maxDuration = base
	}

	next := base + time.Duration(p.int64N(int64(maxDuration)))
	if p.Cap > 0 && next > p.Cap {
		return p.Cap
	}

	return next
}

// Jitter returns a uniformly random duration in [0, maxJitter).
//
// Used to spread concurrent lease acquisition attempts of many instances.
func (p *Policy) Jitter(maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}

	return time.Duration(p.int64N(int64(maxJitter)))
}

func (p *Policy) int64N(n int64) int64 {
	if p != nil && p.rng != nil {
		return p.rng.Int64N(n)
	}

	return rand.Int64N(n) //nolint:gosec // non-crypto backoff jitter
}

// Sleep waits for d or until ctx is done.
//
// Returns:
//   - error: ctx.Err() when the context ended first
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

// newRNG returns a deterministic RNG only when a non-zero seed is provided.
// When seed == 0 it returns nil so callers use the package-level PRNG.
//
//nolint:gosec
func newRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}
