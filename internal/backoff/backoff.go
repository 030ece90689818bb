// Package backoff computes capped exponential delays with jitter.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Delay returns min(base * 2^n, max) plus up to jitter*delay of random
// extra. A non-positive max disables the cap.
func Delay(base time.Duration, n int, max time.Duration, jitter float64) time.Duration {
	return delay(base, n, max, jitter, rand.Float64)
}

func delay(base time.Duration, n int, max time.Duration, jitter float64, rnd func() float64) time.Duration {
	d := base
	for i := 0; i < n; i++ {
		if (max > 0 && d >= max) || d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if max > 0 && d > max {
		d = max
	}
	if jitter > 0 {
		d += time.Duration(jitter * rnd() * float64(d))
	}
	return d
}
