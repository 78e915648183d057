package syncq

import (
	"math/rand"
	"time"
)

// nextDelay returns how long to wait before the attempt following the
// n-th failure: base * 2^attempts, with a ±jitter fraction applied.
// Jittered delays stay monotone across consecutive attempts for any
// jitter below 1/3.
func nextDelay(base time.Duration, attempts int, jitter float64) time.Duration {
	if base <= 0 {
		base = DefaultRetryDelay
	}
	if attempts < 1 {
		attempts = 1
	}
	// cap the exponent so pathological attempt counts cannot overflow
	if attempts > 20 {
		attempts = 20
	}
	d := base << uint(attempts)
	if jitter > 0 {
		span := float64(d) * jitter
		d = time.Duration(float64(d) - span + rand.Float64()*2*span)
	}
	if d < 0 {
		d = 0
	}
	return d
}
