package storage

import (
	"math"
	"math/rand"
	"time"
)

// maxBackoffAttempt keeps 2^attempt well inside int64 nanoseconds; the cap
// is reached long before it.
const maxBackoffAttempt = 16

// ExponentialBackoff is the reconnect delay for push subscriptions.
func ExponentialBackoff(attempt int) time.Duration {
	base := 500 * time.Millisecond

	capDelay := 30 * time.Second
	// attempt=0 => 500ms
	// attempt=1 => 1s
	// attempt=2 => 2s

	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffAttempt {
		attempt = maxBackoffAttempt
	}

	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > capDelay {
		delay = capDelay
	}

	// small jitter (0-250ms) to avoid thundering herd
	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
