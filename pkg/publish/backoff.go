package publish

import (
	"time"
)

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)

// backoff calculates an exponential backoff. This is used to
// calculate wait times between push attempts.
type backoff struct {
	initial time.Duration
	max     time.Duration

	current time.Duration
}

// Failure should be called each time an attempt fails.
func (b *backoff) Failure() {
	b.current *= 2
	if b.current == 0 {
		b.current = b.initial
	} else if b.current > b.max {
		b.current = b.max
	}
}

// Wait is how long to sleep before the next attempt.
func (b *backoff) Wait() time.Duration {
	return b.current
}
