package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestThrottleDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	throttle := NewThrottle(100, clock)

	// The first chunk has to wait for its own bytes to be paid off.
	assert.Equal(t, time.Second, throttle.delay(100))

	// Paid off exactly, so only the new chunk counts.
	clock.Advance(time.Second)
	assert.Equal(t, 500*time.Millisecond, throttle.delay(50))

	// Bursts accumulate credit.
	assert.Equal(t, time.Second, throttle.delay(50))

	// Idle time never builds up negative credit.
	clock.Advance(time.Minute)
	assert.Equal(t, 100*time.Millisecond, throttle.delay(10))
}

func TestThrottleWait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	throttle := NewThrottle(1024, clock)

	done := make(chan error)
	go func() {
		done <- throttle.Wait(context.Background(), 2048)
	}()

	clock.BlockUntil(1)
	select {
	case <-done:
		t.Fatal("Wait returned before the throttle delay elapsed")
	default:
	}

	clock.Advance(2 * time.Second)
	assert.NoError(t, <-done)
}

func TestThrottleWaitCancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	throttle := NewThrottle(1, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, throttle.Wait(ctx, 100))
}

func TestThrottleDisabled(t *testing.T) {
	assert.Nil(t, newThrottle(Options{}))
	assert.NotNil(t, newThrottle(Options{RateLimitBytesPerSec: 1}))
}
