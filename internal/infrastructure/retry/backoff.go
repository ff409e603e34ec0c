// Package retry provides the exponential-backoff-with-jitter helper the
// worker flush loops use when a downstream insert fails, grounded on the
// retry-counter style of the teacher's telemetry_stream_consumer.go.
package retry

import (
	"math/rand"
	"time"
)

// Backoff computes exponential delays from an initial value doubling up to a
// cap, with up to 20% jitter applied to each step to avoid thundering-herd
// retries across consumer processes.
type Backoff struct {
	Initial time.Duration
	Cap     time.Duration
}

// Default is the 1s→30s policy §4.4 specifies for PersistenceWriter's flush
// retries.
func Default() Backoff {
	return Backoff{Initial: 1 * time.Second, Cap: 30 * time.Second}
}

// Delay returns the backoff delay for the given zero-based attempt number.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}
