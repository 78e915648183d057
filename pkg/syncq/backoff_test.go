package syncq

import (
	"testing"
	"time"
)

func TestNextDelayExponential(t *testing.T) {
	base := time.Second
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}
	for _, c := range cases {
		if got := nextDelay(base, c.attempts, 0); got != c.want {
			t.Fatalf("attempts=%d: expected %v got %v", c.attempts, c.want, got)
		}
	}
}

func TestNextDelayZeroAttemptsClampedToOne(t *testing.T) {
	if got := nextDelay(time.Second, 0, 0); got != 2*time.Second {
		t.Fatalf("expected clamp to first backoff step, got %v", got)
	}
}

func TestNextDelayJitterBounds(t *testing.T) {
	base := time.Second
	for attempts := 1; attempts <= 5; attempts++ {
		exact := base << uint(attempts)
		lo := time.Duration(float64(exact) * 0.8)
		hi := time.Duration(float64(exact) * 1.2)
		for i := 0; i < 200; i++ {
			got := nextDelay(base, attempts, 0.2)
			if got < lo || got > hi {
				t.Fatalf("attempts=%d: %v outside [%v, %v]", attempts, got, lo, hi)
			}
		}
	}
}

func TestNextDelayMonotoneUnderJitter(t *testing.T) {
	// upper bound of step n must not exceed lower bound of step n+1
	base := 500 * time.Millisecond
	for attempts := 1; attempts < 8; attempts++ {
		hi := time.Duration(float64(base<<uint(attempts)) * 1.2)
		lo := time.Duration(float64(base<<uint(attempts+1)) * 0.8)
		if hi > lo {
			t.Fatalf("jittered steps overlap at attempts=%d: %v > %v", attempts, hi, lo)
		}
	}
}

func TestNextDelayExponentCap(t *testing.T) {
	capped := nextDelay(time.Second, 20, 0)
	if got := nextDelay(time.Second, 500, 0); got != capped {
		t.Fatalf("expected capped delay %v, got %v", capped, got)
	}
}

func TestNextDelayDefaultsBase(t *testing.T) {
	if got := nextDelay(0, 1, 0); got != 2*DefaultRetryDelay {
		t.Fatalf("expected %v got %v", 2*DefaultRetryDelay, got)
	}
}
