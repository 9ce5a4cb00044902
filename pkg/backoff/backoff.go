// Package backoff computes retry and supervisor restart delays.
package backoff

import (
	"math/rand/v2"
	"time"
)

// maxShift bounds the exponent so the duration shift cannot overflow.
const maxShift = 30

// Retry returns the delay before retry attempt n of a failed task:
// base·2^(n-1) plus up to base of random jitter, capped at max. The jitter
// spreads out retry storms when many tasks fail at once.
//
// Schedule with base=1s, max=30s:
//
//	attempt 1 → 1s + jitter(0..1s)
//	attempt 2 → 2s + jitter(0..1s)
//	attempt 3 → 4s + jitter(0..1s)
func Retry(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := shift(base, attempt-1, max)
	jitter := time.Duration(rand.Int64N(int64(base) + 1))
	if d+jitter > max {
		return max
	}
	return d + jitter
}

// Restart returns the delay before restarting a crashed worker:
// base·2^restarts, capped at max. No jitter — restarts of a single worker
// never storm.
func Restart(restarts int, base, max time.Duration) time.Duration {
	if restarts < 0 {
		restarts = 0
	}
	return shift(base, restarts, max)
}

func shift(base time.Duration, exp int, max time.Duration) time.Duration {
	if exp > maxShift {
		return max
	}
	d := base << exp
	if d <= 0 || d > max {
		return max
	}
	return d
}
