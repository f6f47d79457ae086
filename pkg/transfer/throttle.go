package transfer

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Throttle is a token bucket that smooths a stream of chunks to roughly a
// fixed number of bytes per second. Bursts are absorbed by delaying later
// chunks rather than by stalling the stream.
type Throttle struct {
	rate  float64
	clock clockwork.Clock

	// credit is the number of bytes sent that haven't been paid for by
	// elapsed time yet.
	credit float64
	last   time.Time
}

// NewThrottle returns a Throttle that limits throughput to `bytesPerSec`.
func NewThrottle(bytesPerSec int64, clock clockwork.Clock) *Throttle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Throttle{
		rate:  float64(bytesPerSec),
		clock: clock,
		last:  clock.Now(),
	}
}

func newThrottle(opts Options) *Throttle {
	if opts.RateLimitBytesPerSec <= 0 {
		return nil
	}
	return NewThrottle(opts.RateLimitBytesPerSec, opts.Clock)
}

// Wait blocks until a chunk of `n` bytes may be sent.
func (throttle *Throttle) Wait(ctx context.Context, n int) error {
	delay := throttle.delay(n)
	if delay <= 0 {
		return nil
	}

	select {
	case <-throttle.clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// delay charges `n` bytes to the bucket and returns how long the chunk must
// be held back. Time elapsed since the previous chunk pays off credit at the
// configured rate, but never below zero.
func (throttle *Throttle) delay(n int) time.Duration {
	now := throttle.clock.Now()
	elapsed := now.Sub(throttle.last).Seconds()

	throttle.credit -= elapsed * throttle.rate
	if throttle.credit < 0 {
		throttle.credit = 0
	}
	throttle.credit += float64(n)
	throttle.last = now

	return time.Duration(throttle.credit / throttle.rate * float64(time.Second))
}
