package resilience

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/syncotter/pkg/errors"
)

// Retry calls `op` until it succeeds, returns a permanent error, or has been
// called `maxAttempts` times. The wait after the nth failed attempt is
// `baseDelay * 2^n`, so the first wait is twice `baseDelay`. The last error
// from `op` is returned unchanged.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration,
	op func(context.Context) error) error {

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if baseDelay <= 0 {
		baseDelay = time.Nanosecond
	}

	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(2*baseDelay))

	var attempt int
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil || errors.IsPermanent(err) {
			return err
		}

		if attempt < maxAttempts {
			log.WithError(err).WithField("attempt", attempt).Debug("Operation failed. Retrying.")
		}
		return retry.RetryableError(err)
	})
}
