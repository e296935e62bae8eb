package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicy_BoundsAndCapStickiness(t *testing.T) {
	base := 200 * time.Millisecond
	capDur := 500 * time.Millisecond
	p := New(base, 1.6, capDur, 42)

	prev := time.Duration(0)
	for range 10 {
		next := p.Next(prev)
		require.GreaterOrEqual(t, next, base)
		require.LessOrEqual(t, next, capDur)
		prev = next
	}

	p2 := New(base, 1.6, capDur, 99)
	prev = capDur
	for range 5 {
		next := p2.Next(prev)
		require.GreaterOrEqual(t, next, base)
		require.LessOrEqual(t, next, capDur)
		prev = next
	}
}

func TestPolicy_CapLessThanBase(t *testing.T) {
	p := New(200*time.Millisecond, 1.6, 100*time.Millisecond, 1)

	require.Equal(t, 100*time.Millisecond, p.Next(0))
	require.Equal(t, 100*time.Millisecond, p.Next(200*time.Millisecond))
}

func TestPolicy_Deterministic(t *testing.T) {
	a := New(10*time.Millisecond, 2, time.Second, 7)
	b := New(10*time.Millisecond, 2, time.Second, 7)

	var prevA, prevB time.Duration
	for range 8 {
		prevA = a.Next(prevA)
		prevB = b.Next(prevB)
		require.Equal(t, prevA, prevB)
	}
}

func TestPolicy_Jitter(t *testing.T) {
	p := New(0, 0, 0, 3)
	require.Zero(t, p.Jitter(0))
	require.Zero(t, p.Jitter(-time.Second))

	for range 100 {
		j := p.Jitter(50 * time.Millisecond)
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.Less(t, j, 50*time.Millisecond)
	}

	var unseeded *Policy
	require.Less(t, unseeded.Jitter(time.Millisecond), time.Millisecond)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(t.Context(), time.Millisecond))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}
